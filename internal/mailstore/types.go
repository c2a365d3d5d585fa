// Package mailstore holds the data model and shared contracts of the
// local-mailbox storage engine: the Email and Mailbox records (spec §3),
// the typed error kinds (spec §7), the Engine interface that the Maildir,
// MH and compressed-wrapper implementations all satisfy, and the
// collaborator interfaces the core treats as external (header parsing,
// sorting, the header cache, and shell execution).
package mailstore

import "time"

// Kind identifies which on-disk layout a Mailbox uses.
type Kind int

const (
	KindMaildir Kind = iota
	KindMH
	KindCompressed
)

func (k Kind) String() string {
	switch k {
	case KindMaildir:
		return "maildir"
	case KindMH:
		return "mh"
	case KindCompressed:
		return "compressed"
	default:
		return "unknown"
	}
}

// Email is the in-memory record the engine maintains per message. The
// fields mirror spec §3 exactly; MIME/body decoding itself is out of
// scope and left to the ParseHeaders collaborator.
type Email struct {
	// Path is relative to the mailbox root (e.g. "cur/169...:2,S" or "42").
	Path string

	Read      bool
	Flagged   bool
	Replied   bool
	Deleted   bool
	Old       bool
	Trash     bool
	Changed   bool
	AttachDel bool

	XLabelChanged bool
	RefsChanged   bool
	IRTChanged    bool

	ContentOffset int64
	ContentLength int64
	Received      time.Time

	// MaildirFlags preserves any filename flag letters this engine does
	// not itself interpret (spec §4.C).
	MaildirFlags string

	// Index is this email's compacted position in the owning Mailbox's
	// Messages slice; maintained by update-tables (§4.G) and sync (§4.H).
	Index int
}

// Mailbox is the open, in-memory representation of one on-disk mailbox.
type Mailbox struct {
	Path     string
	RealPath string
	Kind     Kind

	// MTime is the mtime of the primary watched node: Maildir's "new"
	// subdirectory mtime watch baseline, or MH's directory mtime.
	MTime time.Time

	Maildir MaildirState
	MH      MHState

	Messages []*Email

	LastVisited time.Time
	MsgCount    int
	MsgUnread   int
	MsgFlagged  int
	HasNew      bool
	Notified    bool

	// ReadOnly is set when the compressed wrapper (§4.J) downgraded this
	// mailbox after failing to acquire an exclusive lock on open.
	ReadOnly bool
}

// MaildirState is the private per-format state for a Maildir mailbox.
type MaildirState struct {
	MTimeCur time.Time
	Umask    uint32
}

// MHState is the private per-format state for an MH mailbox.
type MHState struct {
	MTimeCur time.Time
	Umask    uint32
}

func (m *Mailbox) recomputeTallies() {
	m.MsgCount = 0
	m.MsgUnread = 0
	m.MsgFlagged = 0
	for _, e := range m.Messages {
		if e.Deleted && e.Trash {
			// still present on disk until purge; still counted.
		}
		m.MsgCount++
		if !e.Read {
			m.MsgUnread++
		}
		if e.Flagged {
			m.MsgFlagged++
		}
	}
}
