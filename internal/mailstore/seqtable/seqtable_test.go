package seqtable

import "testing"

func TestSetGetGrows(t *testing.T) {
	var tbl Table
	tbl.Set(300, Flagged)
	if got := tbl.Get(300); got != Flagged {
		t.Fatalf("Get(300) = %v, want %v", got, Flagged)
	}
	if got := tbl.Get(0); got != 0 {
		t.Fatalf("Get(0) = %v, want 0", got)
	}
	if tbl.Max() < 300 {
		t.Fatalf("Max() = %d, want >= 300", tbl.Max())
	}
}

func TestSetBit(t *testing.T) {
	var tbl Table
	tbl.SetBit(5, Unseen, true)
	tbl.SetBit(5, Replied, true)
	if got := tbl.Get(5); got != Unseen|Replied {
		t.Fatalf("Get(5) = %v, want %v", got, Unseen|Replied)
	}
	tbl.SetBit(5, Unseen, false)
	if got := tbl.Get(5); got != Replied {
		t.Fatalf("Get(5) = %v, want %v", got, Replied)
	}
}

func TestIndices(t *testing.T) {
	var tbl Table
	tbl.Set(1, Flagged)
	tbl.Set(2, Unseen)
	tbl.Set(3, Flagged)

	got := tbl.Indices(Flagged)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("Indices(Flagged) = %v, want [1 3]", got)
	}
}

func TestClearAll(t *testing.T) {
	var tbl Table
	tbl.Set(10, Flagged)
	tbl.ClearAll()
	if got := tbl.Get(10); got != 0 {
		t.Fatalf("Get(10) after ClearAll = %v, want 0", got)
	}
}
