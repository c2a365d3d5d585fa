// Package scan implements spec §4.D: enumerating a mailbox subdirectory
// into an ordered list of candidate entries carrying inode, discovery
// order, and (for Maildir) the filename-decoded initial flag bits.
package scan

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/mdflags"
)

// Entry is one scanned candidate: a fresh Email plus the bookkeeping the
// lazy header parser (component E) and reconciliation (component G) need.
type Entry struct {
	Email         *mailstore.Email
	Inode         uint64
	HeaderParsed  bool
	Canonical     string // lazily computed canonical (flag-less) basename
}

// Mode selects which directory-entry filter and path convention to use.
type Mode int

const (
	ModeMaildir Mode = iota
	ModeMH
)

// Maildir scans <path>/<subdir>, skipping dotfiles, decoding each
// filename's flag suffix into the fresh Email's initial bits.
func Maildir(path, subdir string, flagSafe bool, cancel mailstore.CancelToken, out *[]*Entry) error {
	dir := filepath.Join(path, subdir)
	names, inodes, err := readdirWithInode(dir)
	if err != nil {
		return &mailstore.IoError{Op: "readdir", Path: dir, Err: err}
	}

	for i, name := range names {
		if cancel != nil && cancel.Cancelled() {
			return mailstore.ErrAborted
		}
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		email := &mailstore.Email{Path: filepath.Join(subdir, name)}
		mdflags.Decode(name, flagSafe, email)
		*out = append(*out, &Entry{
			Email: email,
			Inode: inodes[i],
		})
	}
	return nil
}

// MH scans <path> directly (MH has no subdirectory split), skipping
// anything whose name isn't entirely decimal digits.
func MH(path string, cancel mailstore.CancelToken, out *[]*Entry) error {
	names, inodes, err := readdirWithInode(path)
	if err != nil {
		return &mailstore.IoError{Op: "readdir", Path: path, Err: err}
	}

	for i, name := range names {
		if cancel != nil && cancel.Cancelled() {
			return mailstore.ErrAborted
		}
		if !isAllDigits(name) {
			continue
		}
		email := &mailstore.Email{Path: name}
		*out = append(*out, &Entry{
			Email: email,
			Inode: inodes[i],
		})
	}
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MHNumber parses an MH basename (already known all-digit) as its
// message number.
func MHNumber(basename string) (int, error) {
	return strconv.Atoi(basename)
}

func readdirWithInode(dir string) ([]string, []uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(entries))
	inodes := make([]uint64, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Per spec §7: a per-entry scan error skips that entry
			// (nothing is logged).
			continue
		}
		names = append(names, e.Name())
		inodes = append(inodes, inodeOf(info))
	}
	return names, inodes, nil
}
