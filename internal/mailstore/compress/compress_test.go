package compress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/localbox/mailstore/internal/mailstore"
)

func tarCommands() Commands {
	return Commands{
		Open:  "mkdir -p '%t' && tar -xzf '%f' -C '%t'",
		Close: "tar -czf '%f' -C '%t' .",
	}
}

func TestOpenFreshArchiveIsEmptyMailbox(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "mbox.tar.gz")

	c := New(archive, mailstore.DefaultConfig(), tarCommands(), DefaultDelegate, nil)
	mb, err := c.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mb.MsgCount != 0 {
		t.Fatalf("MsgCount = %d, want 0", mb.MsgCount)
	}
	if mb.Kind != mailstore.KindCompressed {
		t.Fatalf("Kind = %v, want KindCompressed", mb.Kind)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestCommitThenSyncRecompresses(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "mbox.tar.gz")

	c := New(archive, mailstore.DefaultConfig(), tarCommands(), DefaultDelegate, nil)
	if _, err := c.Open(mailstore.NoCancel{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	email := &mailstore.Email{}
	w, err := c.NewMessage(email)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if _, err := w.Write([]byte("Subject: hi\n\nbody\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := c.Commit(email, w); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatalf("archive should not exist before Sync recompresses it")
	}

	if _, err := c.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("expected archive to exist after Sync: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestReopenSeesCommittedMessage(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "mbox.tar.gz")

	c := New(archive, mailstore.DefaultConfig(), tarCommands(), DefaultDelegate, nil)
	if _, err := c.Open(mailstore.NoCancel{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	email := &mailstore.Email{}
	w, err := c.NewMessage(email)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if _, err := w.Write([]byte("Subject: hi\n\nbody\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := c.Commit(email, w); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := c.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c2 := New(archive, mailstore.DefaultConfig(), tarCommands(), DefaultDelegate, nil)
	mb, err := c2.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	if mb.MsgCount != 1 {
		t.Fatalf("MsgCount = %d, want 1", mb.MsgCount)
	}
	if err := c2.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestSecondOpenDowngradesToReadOnly(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "mbox.tar.gz")

	c1 := New(archive, mailstore.DefaultConfig(), tarCommands(), DefaultDelegate, nil)
	if _, err := c1.Open(mailstore.NoCancel{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c1.Close()

	c2 := New(archive, mailstore.DefaultConfig(), tarCommands(), DefaultDelegate, nil)
	mb, err := c2.Open(mailstore.NoCancel{})
	if err != nil {
		t.Fatalf("second Open() error = %v, want a read-only downgrade instead", err)
	}
	defer c2.Close()
	if !mb.ReadOnly {
		t.Fatalf("expected second open to be downgraded to read-only")
	}
}

func TestCloseRemovesEmptyArchiveWhenSaveEmptyOff(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "mbox.tar.gz")

	cfg := mailstore.DefaultConfig()
	cfg.SaveEmpty = false
	c := New(archive, cfg, tarCommands(), DefaultDelegate, nil)
	if _, err := c.Open(mailstore.NoCancel{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := c.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatalf("expected empty archive to be removed when save_empty is off")
	}
}
