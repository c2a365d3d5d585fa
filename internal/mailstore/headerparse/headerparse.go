// Package headerparse implements spec §4.E: the second parse pass over a
// directory scan's output, sorted by inode to minimise seek cost, with a
// header-cache fast path and fallback to the ParseHeaders collaborator.
package headerparse

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/localbox/mailstore/internal/mailmetrics"
	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/mdflags"
	"github.com/localbox/mailstore/internal/mailstore/scan"
)

// OpenFile resolves an entry's mailbox-relative path to a readable
// stream; callers typically pass a closure over os.Open(filepath.Join(root, rel)).
type OpenFile func(relPath string) (io.ReadCloser, error)

// Options bundles the lazy parser's dependencies. Mode, MailboxRoot and
// Open are required; Cache, ParseHeaders and SortBy may be nil (no cache
// lookups, no header parsing, no collaborator sort), and Cancel and
// SortOrder are optional.
type Options struct {
	Mode         scan.Mode
	MailboxRoot  string
	FlagSafe     bool
	VerifyCache  bool
	SortOrder    string
	Cache        mailstore.HeaderCache
	ParseHeaders mailstore.ParseHeaders
	SortBy       mailstore.SortBy
	Open         OpenFile
	Cancel       mailstore.CancelToken
}

// Run performs the lazy parse pass in place over entries.
func Run(entries []*scan.Entry, opts Options) error {
	firstUnparsed := -1
	for i, e := range entries {
		if !e.HeaderParsed {
			firstUnparsed = i
			break
		}
	}
	if firstUnparsed < 0 {
		return finishOrder(entries, opts)
	}

	// Sort the unparsed tail by inode ascending, splicing it back to the
	// predecessor (spec §4.E step 1).
	tail := entries[firstUnparsed:]
	sort.SliceStable(tail, func(i, j int) bool { return tail[i].Inode < tail[j].Inode })

	for _, e := range tail {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			return mailstore.ErrAborted
		}
		if e.Email == nil {
			// Duplicate already claimed by reconciliation; stays in the
			// list but is skipped (spec §4.E "Duplicate handling").
			continue
		}
		if e.HeaderParsed {
			continue
		}
		if err := parseOne(e, opts); err != nil {
			return err
		}
		e.HeaderParsed = true
	}

	return finishOrder(entries, opts)
}

func parseOne(e *scan.Entry, opts Options) error {
	key := cacheKey(e, opts)
	e.Canonical = key

	if opts.Cache != nil {
		if blob, found, err := opts.Cache.Fetch(key); err == nil && found {
			full, statErr := os.Stat(filepath.Join(opts.MailboxRoot, e.Email.Path))
			if statErr == nil && (!opts.VerifyCache || !full.ModTime().After(time.Unix(blob.TimestampUnix, 0))) {
				restored := blob.Email
				restored.Path = e.Email.Path
				restored.Old = e.Email.Old
				if opts.Mode == scan.ModeMaildir {
					restored.Flagged, restored.Replied, restored.Read, restored.Deleted, restored.Trash, restored.MaildirFlags = false, false, false, false, false, ""
					mdflags.Decode(filepath.Base(e.Email.Path), opts.FlagSafe, &restored)
				}
				e.Email = &restored
				mailmetrics.HeaderCacheHits.WithLabelValues("hit").Inc()
				return nil
			}
		}
		mailmetrics.HeaderCacheHits.WithLabelValues("miss").Inc()
	}

	f, err := opts.Open(e.Email.Path)
	if err != nil {
		// Per spec §7, a per-entry open error skips this entry
		// (nothing is logged); it is not fatal to the whole pass.
		return nil
	}
	defer f.Close()

	if opts.ParseHeaders != nil {
		if err := opts.ParseHeaders(f, e.Email); err != nil {
			return nil
		}
	}

	if info, err := os.Stat(filepath.Join(opts.MailboxRoot, e.Email.Path)); err == nil {
		e.Email.ContentLength = info.Size() - e.Email.ContentOffset
	}

	if opts.Cache != nil {
		_ = opts.Cache.Store(key, mailstore.HeaderCacheBlob{
			Version:       1,
			Email:         *e.Email,
			TimestampUnix: time.Now().Unix(),
		})
	}
	return nil
}

// cacheKey computes the header-cache key per spec §4.E step a: the full
// numeric filename for MH, or the canonicalised basename (new/cur
// stripped) for Maildir.
func cacheKey(e *scan.Entry, opts Options) string {
	if opts.Mode == scan.ModeMH {
		return e.Email.Path
	}
	base := filepath.Base(e.Email.Path)
	return mdflags.Canonical(base)
}

// finishOrder applies step 3: for MH with "natural" ordering, sort by
// path (lexicographic is acceptable — names are all digits, per design
// note). A supplied SortBy collaborator then runs over the path-sorted
// emails and the order it leaves them in is written back to entries, so
// thread/sort extensions can override.
func finishOrder(entries []*scan.Entry, opts Options) error {
	if opts.Mode != scan.ModeMH || opts.SortOrder != "natural" {
		return nil
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Email == nil || entries[j].Email == nil {
			return false
		}
		return entries[i].Email.Path < entries[j].Email.Path
	})
	if opts.SortBy != nil {
		var slots []int
		emails := make([]*mailstore.Email, 0, len(entries))
		owner := make(map[*mailstore.Email]*scan.Entry, len(entries))
		for i, e := range entries {
			if e.Email != nil {
				slots = append(slots, i)
				emails = append(emails, e.Email)
				owner[e.Email] = e
			}
		}
		opts.SortBy(opts.SortOrder, emails)
		for k, email := range emails {
			entries[slots[k]] = owner[email]
		}
	}
	return nil
}
