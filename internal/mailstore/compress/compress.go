// Package compress implements spec §4.J: a mailstore.Engine wrapper that
// locks the compressed file, decompresses it into a private plaintext
// working directory, delegates every operation to an underlying engine
// opened against that directory, and recompresses on sync/close.
package compress

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"

	"github.com/localbox/mailstore/internal/mailstore"
)

// Commands is the set of shell templates used to move data in and out of
// the compressed file, each containing a %f (compressed file) and a %t
// (plaintext working directory) placeholder, matching the
// close-hook/open-hook/append-hook vocabulary of neomutt's compress.c.
type Commands struct {
	Open   string // decompress %f into %t
	Close  string // recompress %t into %f
	Append string // append %t's new messages onto %f; falls back to Close if empty
}

// Delegate opens a real engine (Maildir or MH) rooted at the plaintext
// directory handed to it.
type Delegate func(plaintextPath string, cfg mailstore.Config) mailstore.Engine

// Compressed wraps a single compressed mailbox file.
type Compressed struct {
	file string
	cfg  mailstore.Config
	cmds Commands
	open Delegate
	run  mailstore.RunShell

	lock      *flock.Flock
	holdsLock bool
	readOnly  bool

	tmpDir string
	size   int64

	// pendingAppend is set by a successful Commit and cleared by Sync: it
	// distinguishes "messages staged since the last recompress" (Close
	// should run the cheaper append hook) from "nothing to do" (sync
	// already recompressed, or nothing ever changed).
	pendingAppend bool

	inner mailstore.Engine
	mbox  *mailstore.Mailbox
}

// New returns an unopened compressed-mailbox engine. run defaults to
// os/exec when nil.
func New(file string, cfg mailstore.Config, cmds Commands, open Delegate, run mailstore.RunShell) *Compressed {
	if run == nil {
		run = DefaultRunShell
	}
	return &Compressed{file: file, cfg: cfg, cmds: cmds, open: open, run: run}
}

func (c *Compressed) Mailbox() *mailstore.Mailbox { return c.mbox }

// Open acquires an advisory lock on a "<file>.lock" sidecar next to the
// compressed file (the compressed file itself is not locked), decompresses
// it into a private plaintext working directory, and opens the delegate
// engine against that directory. Per spec §4.J's locking policy, a
// failed exclusive lock-request downgrades the mailbox to read-only
// rather than failing the open.
func (c *Compressed) Open(cancel mailstore.CancelToken) (*mailstore.Mailbox, error) {
	c.lock = flock.New(c.file + ".lock")
	locked, err := c.lock.TryLock()
	if err != nil {
		return nil, &mailstore.IoError{Op: "lock", Path: c.file, Err: err}
	}
	c.holdsLock = locked
	c.readOnly = !locked

	tmpDir, err := os.MkdirTemp("", "mailstore-compress-")
	if err != nil {
		c.cleanup()
		return nil, &mailstore.IoError{Op: "mkdirtemp", Path: os.TempDir(), Err: err}
	}
	c.tmpDir = tmpDir

	info, statErr := os.Stat(c.file)
	if statErr == nil {
		if _, err := c.exec(c.cmds.Open); err != nil {
			c.cleanup()
			return nil, err
		}
		c.size = info.Size()
	}

	c.inner = c.open(c.tmpDir, c.cfg)
	mb, err := c.inner.Open(cancel)
	if err != nil {
		c.cleanup()
		return nil, err
	}
	mb.Path = c.file
	mb.Kind = mailstore.KindCompressed
	mb.ReadOnly = c.readOnly
	c.mbox = mb
	return mb, nil
}

// Check implements spec §4.J: compares the realpath's current size
// against the size recorded at the last open/check; only on a mismatch
// does it re-lock, re-decompress, and delegate to the inner engine's
// Check.
func (c *Compressed) Check(cancel mailstore.CancelToken) (mailstore.CheckResult, error) {
	info, err := os.Stat(c.file)
	var curSize int64
	if err == nil {
		curSize = info.Size()
	} else if !os.IsNotExist(err) {
		return mailstore.Unchanged, &mailstore.IoError{Op: "stat", Path: c.file, Err: err}
	}
	if curSize == c.size {
		return mailstore.Unchanged, nil
	}

	if !c.holdsLock {
		locked, err := c.lock.TryLock()
		if err != nil {
			return mailstore.Unchanged, &mailstore.IoError{Op: "lock", Path: c.file, Err: err}
		}
		c.holdsLock = locked
		c.readOnly = !locked
		if c.mbox != nil {
			c.mbox.ReadOnly = c.readOnly
		}
	}

	if err == nil {
		if _, err := c.exec(c.cmds.Open); err != nil {
			return mailstore.Unchanged, err
		}
	}
	c.size = curSize
	return c.inner.Check(cancel)
}

// Sync flushes the delegate engine, then recompresses the plaintext
// working directory back over the original file.
func (c *Compressed) Sync() (mailstore.CheckResult, error) {
	res, err := c.inner.Sync()
	if err != nil {
		return mailstore.Unchanged, err
	}
	if _, err := c.exec(c.cmds.Close); err != nil {
		return mailstore.Unchanged, err
	}
	c.pendingAppend = false
	if info, err := os.Stat(c.file); err == nil {
		c.size = info.Size()
	}
	return res, nil
}

// Close implements spec §4.J's close semantics: if messages were staged
// since the last Sync, run the append hook (falling back to Close if no
// append template is configured); otherwise Sync has already
// recompressed and nothing further is needed. An empty mailbox with
// save_empty off has its realpath removed entirely.
func (c *Compressed) Close() error {
	var firstErr error
	if c.inner != nil {
		if c.pendingAppend {
			tmpl := c.cmds.Append
			if tmpl == "" {
				tmpl = c.cmds.Close
			}
			if _, err := c.exec(tmpl); err != nil && firstErr == nil {
				firstErr = err
			}
			c.pendingAppend = false
		}

		msgCount := 0
		if c.mbox != nil {
			msgCount = c.mbox.MsgCount
		}
		if err := c.inner.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if msgCount == 0 && !c.cfg.SaveEmpty && firstErr == nil {
			if err := os.Remove(c.file); err != nil && !os.IsNotExist(err) {
				firstErr = err
			}
		}
	}
	c.cleanup()
	return firstErr
}

func (c *Compressed) cleanup() {
	if c.tmpDir != "" {
		os.RemoveAll(c.tmpDir)
		c.tmpDir = ""
	}
	if c.holdsLock {
		c.lock.Unlock()
		os.Remove(c.file + ".lock")
		c.holdsLock = false
	}
}

func (c *Compressed) NewMessage(email *mailstore.Email) (mailstore.MessageWriter, error) {
	return c.inner.NewMessage(email)
}

func (c *Compressed) Commit(email *mailstore.Email, w mailstore.MessageWriter) (*mailstore.Email, error) {
	committed, err := c.inner.Commit(email, w)
	if err == nil {
		c.pendingAppend = true
	}
	return committed, err
}

// exec expands %f/%t in template and runs it, single-quote escaping both
// paths the way neomutt's mutt_compress_mbox_code substitutes filenames
// into the configured hooks.
func (c *Compressed) exec(template string) (int, error) {
	if template == "" {
		return 0, nil
	}
	cmd := expandPlaceholders(template, c.file, c.tmpDir)
	code, err := c.run(context.Background(), cmd)
	if err != nil {
		return code, &mailstore.FatalError{Reason: fmt.Sprintf("command failed: %s", cmd), Err: err}
	}
	if code != 0 {
		return code, &mailstore.FatalError{Reason: fmt.Sprintf("command exited %d: %s", code, cmd)}
	}
	return code, nil
}

func expandPlaceholders(template, file, tmp string) string {
	r := strings.NewReplacer("%f", shellQuote(file), "%t", shellQuote(tmp))
	return r.Replace(template)
}

// shellQuote wraps s in single quotes, escaping any embedded single
// quote as '\'' (the standard POSIX-shell idiom).
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
