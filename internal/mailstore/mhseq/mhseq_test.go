package mhseq

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/seqtable"
)

func defaultNames() Names {
	return mailstore.SequenceNames{Unseen: "unseen", Flagged: "flagged", Replied: "replied"}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	var table seqtable.Table
	if err := Read(filepath.Join(t.TempDir(), "nope"), defaultNames(), &table); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if table.Max() != -1 {
		t.Fatalf("expected empty table, Max() = %d", table.Max())
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mh_sequences")
	names := defaultNames()

	var table seqtable.Table
	table.SetBit(3, seqtable.Unseen, true)
	table.SetBit(4, seqtable.Unseen, true)
	table.SetBit(5, seqtable.Unseen, true)
	table.SetBit(9, seqtable.Unseen, true)
	table.SetBit(10, seqtable.Unseen, true)
	table.SetBit(5, seqtable.Flagged, true)

	if err := Write(path, names, &table); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "unseen: 3-5 9-10") {
		t.Fatalf("expected range-compressed unseen line, got %q", data)
	}

	var reread seqtable.Table
	if err := Read(path, names, &reread); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if reread.Get(4) != seqtable.Unseen {
		t.Fatalf("Get(4) = %v, want Unseen", reread.Get(4))
	}
	if reread.Get(5) != seqtable.Unseen|seqtable.Flagged {
		t.Fatalf("Get(5) = %v, want Unseen|Flagged", reread.Get(5))
	}
}

func TestWritePreservesUnknownSequences(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mh_sequences")
	names := defaultNames()

	if err := os.WriteFile(path, []byte("cur: 7\nunseen: 1 2\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var table seqtable.Table
	table.SetBit(8, seqtable.Unseen, true)

	if err := Write(path, names, &table); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "cur: 7") {
		t.Fatalf("expected unknown sequence 'cur' preserved, got %q", data)
	}
	if strings.Contains(string(data), "unseen: 1 2") {
		t.Fatalf("expected old unseen line replaced, got %q", data)
	}
}

func TestAppendOneAddsAndExtends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mh_sequences")
	names := defaultNames()

	if err := AppendOne(path, names, 1, true, false, false); err != nil {
		t.Fatalf("AppendOne() error = %v", err)
	}
	if err := AppendOne(path, names, 2, true, true, false); err != nil {
		t.Fatalf("AppendOne() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "unseen: 1 2") {
		t.Fatalf("expected appended unseen entries, got %q", text)
	}
	if !strings.Contains(text, "flagged: 2") {
		t.Fatalf("expected new flagged line, got %q", text)
	}
}
