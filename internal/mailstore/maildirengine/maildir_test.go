package maildirengine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/localbox/mailstore/internal/mailstore"
)

func newTestMaildir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, sub := range []string{"new", "cur", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o700); err != nil {
			t.Fatalf("MkdirAll(%s) error = %v", sub, err)
		}
	}
	return root
}

func deliver(t *testing.T, root, subdir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, subdir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestOpenScansNewAndCur(t *testing.T) {
	root := newTestMaildir(t)
	deliver(t, root, "new", "1.host", "Subject: one\n\nbody\n")
	deliver(t, root, "cur", "2.host:2,S", "Subject: two\n\nbody\n")

	eng := New(root, mailstore.DefaultConfig())
	mb, err := eng.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mb.MsgCount != 2 {
		t.Fatalf("MsgCount = %d, want 2", mb.MsgCount)
	}
	if mb.MsgUnread != 1 {
		t.Fatalf("MsgUnread = %d, want 1 (only the cur/ message is Seen)", mb.MsgUnread)
	}
}

func TestNewMessageCommitPlacesInNew(t *testing.T) {
	root := newTestMaildir(t)
	eng := New(root, mailstore.DefaultConfig())
	if _, err := eng.Open(mailstore.NoCancel{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	email := &mailstore.Email{}
	w, err := eng.NewMessage(email)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if _, err := w.Write([]byte("Subject: hi\n\nbody\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	committed, err := eng.Commit(email, w)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !strings.HasPrefix(committed.Path, "new"+string(filepath.Separator)) {
		t.Fatalf("Path = %q, want new/ prefix", committed.Path)
	}
	if _, err := os.Stat(filepath.Join(root, committed.Path)); err != nil {
		t.Fatalf("committed file missing: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "tmp"))
	if len(entries) != 0 {
		t.Fatalf("expected tmp/ to be empty after commit, found %d entries", len(entries))
	}
}

func TestCheckDetectsNewMail(t *testing.T) {
	root := newTestMaildir(t)
	eng := New(root, mailstore.DefaultConfig())
	mb, err := eng.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mb.MsgCount != 0 {
		t.Fatalf("MsgCount = %d, want 0", mb.MsgCount)
	}

	deliver(t, root, "new", "99.host", "Subject: late\n\nbody\n")
	// Force the recorded mtime stale so Check observes the directory change.
	mb.MTime = mb.MTime.Add(-time.Hour)

	res, err := eng.Check(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res != mailstore.NewMail {
		t.Fatalf("Check() = %v, want NewMail", res)
	}
	if mb.MsgCount != 1 {
		t.Fatalf("MsgCount after check = %d, want 1", mb.MsgCount)
	}
}

func TestSyncUnlinksDeleted(t *testing.T) {
	root := newTestMaildir(t)
	deliver(t, root, "cur", "1.host:2,S", "Subject: x\n\nbody\n")

	eng := New(root, mailstore.DefaultConfig())
	mb, err := eng.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mb.Messages[0].Deleted = true

	if _, err := eng.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if mb.MsgCount != 0 {
		t.Fatalf("MsgCount after sync = %d, want 0", mb.MsgCount)
	}
	if _, err := os.Stat(filepath.Join(root, "cur", "1.host:2,S")); !os.IsNotExist(err) {
		t.Fatalf("expected deleted message unlinked, stat error = %v", err)
	}
}
