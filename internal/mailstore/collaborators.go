package mailstore

import (
	"context"
	"io"
)

// ParseHeaders is the out-of-scope RFC 822/MIME collaborator: given the
// message's content stream, it populates header-derived fields (envelope,
// content offset/length, received time) on email. A default
// implementation backed by github.com/emersion/go-message lives in
// internal/mailstore/headerparse.
type ParseHeaders func(stream io.Reader, email *Email) error

// SortBy is the out-of-scope thread/order collaborator invoked after a
// parse pass when the application-level order is "natural" (spec §4.E
// step 3). A default implementation backed by go-imap-sortthread lives in
// internal/mailstore/sortby.
type SortBy func(order string, messages []*Email)

// FlagSetter is merge-flags' (§4.G) external collaborator: called once per
// differing bit with the new value. The host is expected to update
// tallies/sidebar state; the boolean return says whether the bit actually
// flipped (always true here — the core only calls it when it already
// knows the bits differ).
type FlagSetter func(email *Email, bit string, value bool) bool

// RunShell executes an opaque command string (already built from a
// template) and returns its exit status, or an error if the command could
// not even be started. Used only by the compressed wrapper (§4.J).
type RunShell func(ctx context.Context, cmd string) (exitCode int, err error)

// CancelToken is the cooperative cancellation signal scan/parse poll at
// loop boundaries (spec §5, design note "signal-driven cancellation").
type CancelToken interface {
	Cancelled() bool
}

// NoCancel never reports cancellation.
type NoCancel struct{}

func (NoCancel) Cancelled() bool { return false }

// HeaderCacheBlob is the opaque, versioned value stored per message by the
// header cache. The email field holds a full snapshot of what ParseHeaders
// produced; Timestamp is compared against the file's mtime to decide
// whether the cached copy is still valid (spec §4.E step b).
type HeaderCacheBlob struct {
	Version   int
	Email     Email
	TimestampUnix int64
}

// HeaderCache is the trait the core relies on for the header-cache
// storage engine (spec §9): fetch/store per message, delete on purge.
// The Maildir and MH engines open it once in Open and close it in Close,
// so one handle serves every Check and Sync in between; it is not
// reopened per sync. Concrete implementations live in
// internal/mailstore/headercache.
type HeaderCache interface {
	Open(mailboxPath string) error
	Fetch(key string) (HeaderCacheBlob, bool, error)
	Store(key string, blob HeaderCacheBlob) error
	Delete(key string) error
	Close() error
}
