package mdflags

import (
	"testing"

	"github.com/localbox/mailstore/internal/mailstore"
)

func TestEncodeFlaggedSeenWithPreserved(t *testing.T) {
	email := &mailstore.Email{Flagged: true, Read: true, MaildirFlags: "X"}
	if got := Encode(email); got != ":2,FSX" {
		t.Fatalf("Encode() = %q, want %q", got, ":2,FSX")
	}
}

func TestEncodeEmptyNonOld(t *testing.T) {
	email := &mailstore.Email{}
	if got := Encode(email); got != "" {
		t.Fatalf("Encode() = %q, want empty string", got)
	}
}

func TestEncodeOldWithNoFlags(t *testing.T) {
	email := &mailstore.Email{Old: true}
	if got := Encode(email); got != ":2," {
		t.Fatalf("Encode() = %q, want %q", got, ":2,")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"1234.R1.host:2,FRS",
		"1234.R1.host:2,T",
		"1234.R1.host:2,",
		"1234.R1.host",
	}
	for _, base := range cases {
		email := &mailstore.Email{}
		Decode(base, false, email)
		if got := Canonical(base); got == "" {
			t.Errorf("Canonical(%q) returned empty", base)
		}
		again := &mailstore.Email{}
		Decode(Canonical(base)+Encode(email), false, again)
		if again.Flagged != email.Flagged || again.Replied != email.Replied || again.Read != email.Read ||
			again.Trash != email.Trash || again.Deleted != email.Deleted || again.MaildirFlags != email.MaildirFlags {
			t.Errorf("round trip of %q: decoded %+v, re-decoded %+v", base, email, again)
		}
	}
}

func TestDecodeTrashImpliesDeletedUnlessFlagSafe(t *testing.T) {
	email := &mailstore.Email{}
	Decode("1.R1.host:2,FT", true, email)
	if !email.Flagged || !email.Trash {
		t.Fatalf("expected flagged+trash set")
	}
	if email.Deleted {
		t.Fatalf("flag_safe should have suppressed implied Deleted")
	}

	email2 := &mailstore.Email{}
	Decode("1.R1.host:2,T", true, email2)
	if !email2.Deleted {
		t.Fatalf("expected Deleted implied by T with no F")
	}
}

func TestCanonicalStripsInfo(t *testing.T) {
	if got := Canonical("1234.R1.host:2,FS"); got != "1234.R1.host" {
		t.Fatalf("Canonical() = %q", got)
	}
	if got := Canonical("1234.R1.host"); got != "1234.R1.host" {
		t.Fatalf("Canonical() = %q", got)
	}
}
