package mhengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/localbox/mailstore/internal/mailstore"
)

func deliver(t *testing.T, root, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestOpenScansNumberedFiles(t *testing.T) {
	root := t.TempDir()
	deliver(t, root, "1", "Subject: one\n\nbody\n")
	deliver(t, root, "2", "Subject: two\n\nbody\n")
	deliver(t, root, "notanumber", "ignored")

	eng := New(root, mailstore.DefaultConfig())
	mb, err := eng.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mb.MsgCount != 2 {
		t.Fatalf("MsgCount = %d, want 2", mb.MsgCount)
	}
}

func TestOpenAppliesSequences(t *testing.T) {
	root := t.TempDir()
	deliver(t, root, "1", "Subject: one\n\nbody\n")
	deliver(t, root, "2", "Subject: two\n\nbody\n")
	deliver(t, root, ".mh_sequences", "unseen: 2\nflagged: 1\n")

	eng := New(root, mailstore.DefaultConfig())
	mb, err := eng.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var msg1, msg2 *mailstore.Email
	for _, m := range mb.Messages {
		switch filepath.Base(m.Path) {
		case "1":
			msg1 = m
		case "2":
			msg2 = m
		}
	}
	if msg1 == nil || msg2 == nil {
		t.Fatalf("expected both messages present")
	}
	if !msg1.Flagged || !msg1.Read {
		t.Fatalf("message 1 should be flagged and read (not in unseen), got %+v", msg1)
	}
	if msg2.Read {
		t.Fatalf("message 2 is in unseen, should not be Read")
	}
}

func TestCommitAllocatesNextNumberAndAppendsSequence(t *testing.T) {
	root := t.TempDir()
	deliver(t, root, "1", "Subject: one\n\nbody\n")

	eng := New(root, mailstore.DefaultConfig())
	if _, err := eng.Open(mailstore.NoCancel{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	email := &mailstore.Email{}
	w, err := eng.NewMessage(email)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if _, err := w.Write([]byte("Subject: new\n\nbody\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	committed, err := eng.Commit(email, w)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if filepath.Base(committed.Path) != "2" {
		t.Fatalf("committed.Path = %q, want \"2\"", committed.Path)
	}

	data, err := os.ReadFile(filepath.Join(root, ".mh_sequences"))
	if err != nil {
		t.Fatalf("ReadFile(.mh_sequences) error = %v", err)
	}
	if len(data) == 0 {
		t.Fatalf(".mh_sequences should not be empty after committing an unseen message")
	}
}

func TestSyncTombstonesDeletedWithoutPurge(t *testing.T) {
	root := t.TempDir()
	deliver(t, root, "1", "Subject: one\n\nbody\n")

	cfg := mailstore.DefaultConfig()
	cfg.MHPurge = false
	eng := New(root, cfg)
	mb, err := eng.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mb.Messages[0].Deleted = true

	if _, err := eng.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ",1")); err != nil {
		t.Fatalf("expected tombstone file ,1 to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "1")); !os.IsNotExist(err) {
		t.Fatalf("expected original file 1 to be gone")
	}
}
