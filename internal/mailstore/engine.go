package mailstore

import "io"

// MessageWriter is the handle returned by NewMessage: a temp-file (spec
// §4.I) the caller writes the new message's bytes into before Commit
// promotes it into the mailbox.
type MessageWriter interface {
	io.Writer
	io.Closer
	// Discard removes the temp file without committing it (used when the
	// caller aborts after NewMessage but before Commit).
	Discard() error
}

// Engine is the uniform surface spec §4.F-I presents regardless of
// on-disk format: Maildir, MH, and the compressed wrapper (which
// delegates to one of the other two after decompression) all implement
// it. internal/storage/local adapts this to the emersion/go-imap backend
// interfaces.
type Engine interface {
	// Open performs the first full load (§4.F).
	Open(cancel CancelToken) (*Mailbox, error)

	// Check performs an incremental reconciliation (§4.G) and returns the
	// precedence-ordered result.
	Check(cancel CancelToken) (CheckResult, error)

	// Sync commits pending changes: flag rewrites, attachment-delete
	// rewrites, deletions/purges, and (MH) sequence-file rewrite (§4.H).
	// If a prior Check would report change, Sync returns that result
	// immediately and performs no per-message work.
	Sync() (CheckResult, error)

	// Close releases any engine-held resources (header cache handle,
	// compressed-wrapper lock, ...).
	Close() error

	// Mailbox returns the live in-memory Mailbox record.
	Mailbox() *Mailbox

	// NewMessage opens a fresh staging file for a message to be
	// delivered with the given intended flags (§4.I).
	NewMessage(email *Email) (MessageWriter, error)

	// Commit promotes a message staged via NewMessage into the mailbox,
	// retrying on collision, and returns the committed Email.
	Commit(email *Email, w MessageWriter) (*Email, error)
}
