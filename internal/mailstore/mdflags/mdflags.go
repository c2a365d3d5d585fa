// Package mdflags implements spec §4.C: encoding/decoding the Maildir
// ":2,<flags>" filename suffix and canonicalising a basename to its
// flag-less identity key.
package mdflags

import (
	"sort"
	"strings"

	"github.com/localbox/mailstore/internal/mailstore"
)

// Decode parses a Maildir basename's flag suffix into email, following
// spec §4.C: the suffix after the rightmost ':' is examined only if it
// begins with "2,"; F/R/S/T map to the four known bits (T implies Deleted
// unless the message is Flagged and flagSafe is set); any other
// character is preserved verbatim in MaildirFlags.
func Decode(basename string, flagSafe bool, email *mailstore.Email) {
	idx := strings.LastIndexByte(basename, ':')
	if idx < 0 {
		return
	}
	suffix := basename[idx+1:]
	if !strings.HasPrefix(suffix, "2,") {
		return
	}

	var preserved []byte
	for i := 2; i < len(suffix); i++ {
		switch suffix[i] {
		case 'F':
			email.Flagged = true
		case 'R':
			email.Replied = true
		case 'S':
			email.Read = true
		case 'T':
			email.Trash = true
		default:
			preserved = append(preserved, suffix[i])
		}
	}
	if email.Trash && !(email.Flagged && flagSafe) {
		email.Deleted = true
	}
	if len(preserved) > 0 {
		email.MaildirFlags = string(preserved)
	}
}

// Encode builds the ":2,<flags>" suffix for email, or "" when there are
// no flags, no Old marker, and no preserved letters to emit (spec §4.C).
func Encode(email *mailstore.Email) string {
	var chars []byte
	if email.Flagged {
		chars = append(chars, 'F')
	}
	if email.Replied {
		chars = append(chars, 'R')
	}
	if email.Read {
		chars = append(chars, 'S')
	}
	if email.Deleted {
		chars = append(chars, 'T')
	}
	chars = append(chars, []byte(email.MaildirFlags)...)

	if len(chars) == 0 && !email.Old {
		return ""
	}
	// F, R, S, T are already ASCII-ascending, so sorting unconditionally
	// also satisfies "if preserved letters exist, sort in ASCII order".
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return ":2," + string(chars)
}

// Canonical drops everything from the last ':' onward in basename,
// yielding the identity key two files differing only in flags share
// (spec §4.C, used by reconciliation's hash map).
func Canonical(basename string) string {
	if idx := strings.LastIndexByte(basename, ':'); idx >= 0 {
		return basename[:idx]
	}
	return basename
}
