// Package maildirengine implements spec §4.F-I for the Maildir format:
// open, incremental check, sync/commit, and new-message allocation, all
// built on components A-E from the sibling mailstore packages.
package maildirengine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/localbox/mailstore/internal/mailmetrics"
	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/headerparse"
	"github.com/localbox/mailstore/internal/mailstore/mdflags"
	"github.com/localbox/mailstore/internal/mailstore/scan"
	"github.com/localbox/mailstore/internal/mailstore/tempfile"
)

// Maildir is a mailstore.Engine backed by the two-subdirectory Maildir
// layout (spec §6).
type Maildir struct {
	root string
	cfg  mailstore.Config

	Cache        mailstore.HeaderCache
	ParseHeaders mailstore.ParseHeaders
	SortBy       mailstore.SortBy
	FlagSetter   mailstore.FlagSetter

	mbox *mailstore.Mailbox
}

// New returns an unopened Maildir engine rooted at root.
func New(root string, cfg mailstore.Config) *Maildir {
	return &Maildir{root: root, cfg: cfg}
}

func (m *Maildir) Mailbox() *mailstore.Mailbox { return m.mbox }

func (m *Maildir) openFile(rel string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(m.root, rel))
}

// Open implements spec §4.F: scan(new) ++ scan(cur), lazy parse, install.
func (m *Maildir) Open(cancel mailstore.CancelToken) (*mailstore.Mailbox, error) {
	timer := prometheus.NewTimer(mailmetrics.ScanDuration.WithLabelValues("maildir"))
	defer timer.ObserveDuration()

	var entries []*scan.Entry
	if err := scan.Maildir(m.root, "new", m.cfg.FlagSafe, cancel, &entries); err != nil {
		return nil, err
	}
	if err := scan.Maildir(m.root, "cur", m.cfg.FlagSafe, cancel, &entries); err != nil {
		return nil, err
	}

	if m.Cache != nil {
		if err := m.Cache.Open(m.root); err != nil {
			return nil, err
		}
	}

	if err := headerparse.Run(entries, headerparse.Options{
		Mode:         scan.ModeMaildir,
		MailboxRoot:  m.root,
		FlagSafe:     m.cfg.FlagSafe,
		VerifyCache:  m.cfg.HeaderCacheVerify,
		SortOrder:    m.cfg.SortOrder,
		Cache:        m.Cache,
		ParseHeaders: m.ParseHeaders,
		SortBy:       m.SortBy,
		Open:         m.openFile,
		Cancel:       cancel,
	}); err != nil {
		return nil, err
	}

	realpath, err := filepath.EvalSymlinks(m.root)
	if err != nil {
		realpath = m.root
	}

	mb := &mailstore.Mailbox{
		Path:     m.root,
		RealPath: realpath,
		Kind:     mailstore.KindMaildir,
	}
	for i, e := range entries {
		if e.Email == nil {
			continue
		}
		e.Email.Index = i
		mb.Messages = append(mb.Messages, e.Email)
	}
	mb.Maildir.Umask = umaskFor(m.root)
	if info, err := os.Stat(filepath.Join(m.root, "new")); err == nil {
		mb.MTime = info.ModTime()
	}
	if info, err := os.Stat(filepath.Join(m.root, "cur")); err == nil {
		mb.Maildir.MTimeCur = info.ModTime()
	}
	mb.LastVisited = time.Now()
	recomputeTallies(mb)

	m.mbox = mb
	return mb, nil
}

func umaskFor(dir string) uint32 {
	info, err := os.Stat(dir)
	if err != nil {
		return 0o077
	}
	return 0o777 &^ uint32(info.Mode().Perm())
}

func recomputeTallies(mb *mailstore.Mailbox) {
	mb.MsgCount, mb.MsgUnread, mb.MsgFlagged = 0, 0, 0
	for _, e := range mb.Messages {
		mb.MsgCount++
		if !e.Read {
			mb.MsgUnread++
		}
		if e.Flagged {
			mb.MsgFlagged++
		}
	}
}

// Check implements spec §4.G for Maildir.
func (m *Maildir) Check(cancel mailstore.CancelToken) (mailstore.CheckResult, error) {
	return m.check(cancel, false)
}

func (m *Maildir) check(cancel mailstore.CancelToken, fromMonitor bool) (mailstore.CheckResult, error) {
	mb := m.mbox
	newInfo, err := os.Stat(filepath.Join(m.root, "new"))
	if err != nil {
		return mailstore.Unchanged, &mailstore.IoError{Op: "stat", Path: filepath.Join(m.root, "new"), Err: err}
	}
	curInfo, err := os.Stat(filepath.Join(m.root, "cur"))
	if err != nil {
		return mailstore.Unchanged, &mailstore.IoError{Op: "stat", Path: filepath.Join(m.root, "cur"), Err: err}
	}

	newChanged := newInfo.ModTime().After(mb.MTime)
	curChanged := curInfo.ModTime().After(mb.Maildir.MTimeCur)
	if !newChanged && !curChanged {
		return mailstore.Unchanged, nil
	}

	if !fromMonitor {
		if newChanged {
			mb.MTime = newInfo.ModTime()
		}
		if curChanged {
			mb.Maildir.MTimeCur = curInfo.ModTime()
		}
	}

	var entries []*scan.Entry
	if newChanged {
		if err := scan.Maildir(m.root, "new", m.cfg.FlagSafe, cancel, &entries); err != nil {
			return mailstore.Unchanged, err
		}
	}
	if curChanged {
		if err := scan.Maildir(m.root, "cur", m.cfg.FlagSafe, cancel, &entries); err != nil {
			return mailstore.Unchanged, err
		}
	}
	if err := headerparse.Run(entries, headerparse.Options{
		Mode:         scan.ModeMaildir,
		MailboxRoot:  m.root,
		FlagSafe:     m.cfg.FlagSafe,
		VerifyCache:  m.cfg.HeaderCacheVerify,
		SortOrder:    m.cfg.SortOrder,
		Cache:        m.Cache,
		ParseHeaders: m.ParseHeaders,
		SortBy:       m.SortBy,
		Open:         m.openFile,
		Cancel:       cancel,
	}); err != nil {
		return mailstore.Unchanged, err
	}

	discovered := make(map[string]*scan.Entry, len(entries))
	for _, e := range entries {
		if e.Email == nil {
			continue
		}
		discovered[mdflags.Canonical(filepath.Base(e.Email.Path))] = e
	}

	result := mailstore.Unchanged
	occult := false
	var kept []*mailstore.Email

	for _, email := range mb.Messages {
		canon := mdflags.Canonical(filepath.Base(email.Path))
		entry, found := discovered[canon]
		if !found {
			scannedThisSubdir := (newChanged && strings.HasPrefix(email.Path, "new"+string(filepath.Separator))) ||
				(curChanged && strings.HasPrefix(email.Path, "cur"+string(filepath.Separator)))
			if scannedThisSubdir {
				occult = true
				continue // dropped: vanished from disk (§4.G "occult")
			}
			kept = append(kept, email)
			continue
		}

		if entry.Email.Path != email.Path {
			email.Path = entry.Email.Path
		}
		if !email.Changed {
			if mergeFlags(email, entry.Email, m.FlagSetter) {
				result = mailstore.Combine(result, mailstore.FlagsChanged)
			}
		}
		if email.Deleted == email.Trash {
			email.Deleted = entry.Email.Deleted
		}
		email.Trash = entry.Email.Trash

		entry.Email = nil // discovered entry consumed; drop the duplicate
		kept = append(kept, email)
	}

	if occult {
		kept = updateTables(kept)
		result = mailstore.Combine(result, mailstore.Reopened)
	}

	// Surviving newly scanned entries (never claimed above) are new mail.
	for _, e := range entries {
		if e.Email == nil {
			continue
		}
		e.Email.Index = len(kept)
		kept = append(kept, e.Email)
		result = mailstore.Combine(result, mailstore.NewMail)
		mb.HasNew = true
	}

	mb.Messages = kept
	recomputeTallies(mb)
	return result, nil
}

// mergeFlags is spec §4.G's merge-flags helper: call flagSetter for each
// of flagged/replied/read/old that differs, returning whether anything
// changed. Only the email's own bits are updated; Mailbox carries no
// global changed bit.
func mergeFlags(old, discovered *mailstore.Email, set mailstore.FlagSetter) bool {
	changed := false
	apply := func(bit string, oldVal, newVal bool, assign func(bool)) {
		if oldVal != newVal {
			if set != nil {
				set(old, bit, newVal)
			}
			assign(newVal)
			changed = true
		}
	}
	apply("flagged", old.Flagged, discovered.Flagged, func(v bool) { old.Flagged = v })
	apply("replied", old.Replied, discovered.Replied, func(v bool) { old.Replied = v })
	apply("read", old.Read, discovered.Read, func(v bool) { old.Read = v })
	apply("old", old.Old, discovered.Old, func(v bool) { old.Old = v })
	return changed
}

// updateTables is spec §4.G's update-tables: re-sort and reassign compact
// indices over the surviving active emails.
func updateTables(messages []*mailstore.Email) []*mailstore.Email {
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Path < messages[j].Path })
	for i, e := range messages {
		e.Index = i
	}
	return messages
}

// Sync implements spec §4.H for Maildir.
func (m *Maildir) Sync() (mailstore.CheckResult, error) {
	if res, err := m.Check(mailstore.NoCancel{}); err != nil {
		mailmetrics.SyncTotal.WithLabelValues("maildir", "error").Inc()
		return mailstore.Unchanged, err
	} else if res != mailstore.Unchanged {
		mailmetrics.SyncTotal.WithLabelValues("maildir", res.String()).Inc()
		return res, nil
	}

	mb := m.mbox
	var kept []*mailstore.Email
	for _, email := range mb.Messages {
		keep, err := m.syncOne(email)
		if err != nil {
			mailmetrics.SyncTotal.WithLabelValues("maildir", "error").Inc()
			return mailstore.Unchanged, err
		}
		if keep {
			kept = append(kept, email)
		}
	}
	for i, e := range kept {
		e.Index = i
	}
	mb.Messages = kept
	recomputeTallies(mb)
	mailmetrics.MessagesTotal.WithLabelValues("maildir").Set(float64(len(mb.Messages)))
	mailmetrics.SyncTotal.WithLabelValues("maildir", "unchanged").Inc()

	if info, err := os.Stat(filepath.Join(m.root, "new")); err == nil {
		mb.MTime = info.ModTime()
	}
	if info, err := os.Stat(filepath.Join(m.root, "cur")); err == nil {
		mb.Maildir.MTimeCur = info.ModTime()
	}
	return mailstore.Unchanged, nil
}

// syncOne applies the per-message policy of spec §4.H in order: delete,
// attachment-delete rewrite, flag-only rename. Returns false if the
// message was removed from the mailbox.
func (m *Maildir) syncOne(email *mailstore.Email) (bool, error) {
	full := filepath.Join(m.root, email.Path)

	if email.Deleted && !m.cfg.MaildirTrash {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return false, &mailstore.IoError{Op: "unlink", Path: full, Err: err}
		}
		if m.Cache != nil {
			_ = m.Cache.Delete(mdflags.Canonical(filepath.Base(email.Path)))
		}
		return false, nil
	}

	if email.AttachDel || email.XLabelChanged || email.RefsChanged || email.IRTChanged {
		if err := m.rewriteMessage(email); err != nil {
			return false, err
		}
	}

	return m.flagRename(email)
}

// rewriteMessage implements the "rewrite" branch of §4.H step 2: stage a
// fresh copy via NewMessage/Commit, then unlink the old path. The engine
// has no copy_message collaborator, so the existing bytes are copied
// verbatim; attachments are not stripped and headers are not rewritten.
func (m *Maildir) rewriteMessage(email *mailstore.Email) error {
	w, err := m.NewMessage(email)
	if err != nil {
		return err
	}
	oldFull := filepath.Join(m.root, email.Path)
	src, err := os.Open(oldFull)
	if err != nil {
		w.Discard()
		return &mailstore.IoError{Op: "open", Path: oldFull, Err: err}
	}
	_, copyErr := io.Copy(w, src)
	src.Close()
	if copyErr != nil {
		w.Discard()
		return &mailstore.IoError{Op: "copy", Path: oldFull, Err: copyErr}
	}

	committed, err := m.Commit(email, w)
	if err != nil {
		return err
	}
	if err := os.Remove(oldFull); err != nil && !os.IsNotExist(err) {
		return &mailstore.IoError{Op: "unlink", Path: oldFull, Err: err}
	}
	*email = *committed
	email.AttachDel = false
	email.XLabelChanged = false
	email.RefsChanged = false
	email.IRTChanged = false
	email.Changed = false
	return nil
}

// flagRename implements §4.H step 3: rename to encode current flags and
// subdirectory. A no-op if nothing changed.
func (m *Maildir) flagRename(email *mailstore.Email) (bool, error) {
	subdir := "new"
	if email.Read || email.Old {
		subdir = "cur"
	}
	uniq := mdflags.Canonical(filepath.Base(email.Path))
	newRel := filepath.Join(subdir, uniq+mdflags.Encode(email))
	if newRel == email.Path {
		email.Changed = false
		return true, nil
	}

	email.Trash = email.Deleted // recorded before rename per spec §4.H step 3
	oldFull := filepath.Join(m.root, email.Path)
	newFull := filepath.Join(m.root, newRel)
	if err := os.Rename(oldFull, newFull); err != nil {
		return true, &mailstore.FatalError{Reason: fmt.Sprintf("rename %s -> %s", oldFull, newFull), Err: err}
	}
	email.Path = newRel
	email.Changed = false
	return true, nil
}

func (m *Maildir) Close() error {
	if m.Cache != nil {
		return m.Cache.Close()
	}
	return nil
}

// messageWriter is the MessageWriter returned by NewMessage, staged under
// tmp/ per spec §4.I.
type messageWriter struct {
	f       *os.File
	tmpPath string
}

func (w *messageWriter) Write(p []byte) (int, error) { return w.f.Write(p) }
func (w *messageWriter) Close() error                { return w.f.Close() }
func (w *messageWriter) Discard() error {
	w.f.Close()
	return tempfile.Unlink(w.tmpPath)
}

// NewMessage implements spec §4.I's Maildir path: stage under
// tmp/<subdir>.<ts>.R<rand64>.<host><suffix>, with Deleted cleared so a
// trailing T never leaks into tmp/.
func (m *Maildir) NewMessage(email *mailstore.Email) (mailstore.MessageWriter, error) {
	subdir := "new"
	if email.Read || email.Old {
		subdir = "cur"
	}
	tmpEmail := *email
	tmpEmail.Deleted = false
	suffix := mdflags.Encode(&tmpEmail)

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	for attempt := 0; attempt < 1000; attempt++ {
		name := fmt.Sprintf("%s.%d.R%s.%s%s", subdir, time.Now().Unix(), randomSuffix(), host, suffix)
		tmpPath := filepath.Join(m.root, "tmp", name)
		f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return &messageWriter{f: f, tmpPath: tmpPath}, nil
		}
		if !os.IsExist(err) {
			return nil, &mailstore.IoError{Op: "create", Path: tmpPath, Err: err}
		}
	}
	return nil, fmt.Errorf("maildirengine: exhausted attempts staging new message")
}

// Commit implements spec §4.I's Maildir commit: link tmp/ into the
// target subdirectory and unlink the temp, retrying the random
// component on EEXIST. Link (not rename) is what actually fails on a
// collision instead of silently clobbering the existing file.
func (m *Maildir) Commit(email *mailstore.Email, w mailstore.MessageWriter) (*mailstore.Email, error) {
	mw, ok := w.(*messageWriter)
	if !ok {
		return nil, fmt.Errorf("maildirengine: foreign MessageWriter")
	}
	if err := mw.f.Close(); err != nil {
		tempfile.Unlink(mw.tmpPath)
		return nil, &mailstore.IoError{Op: "close", Path: mw.tmpPath, Err: err}
	}

	subdir := "new"
	if email.Read || email.Old {
		subdir = "cur"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	base := filepath.Base(mw.tmpPath)
	uniqAndSuffix := strings.TrimPrefix(base, subdir+".")
	suffix := mdflags.Encode(email)

	for attempt := 0; attempt < 1000; attempt++ {
		uniq := fmt.Sprintf("%d.R%s.%s", time.Now().Unix(), randomSuffix(), host)
		if attempt == 0 {
			// first try keeps the identity minted at NewMessage time.
			uniq = strings.TrimSuffix(uniqAndSuffix, suffix)
		}
		target := filepath.Join(subdir, uniq+suffix)
		targetFull := filepath.Join(m.root, target)
		if err := os.Link(mw.tmpPath, targetFull); err == nil {
			tempfile.Unlink(mw.tmpPath)
			committed := *email
			committed.Path = target
			return &committed, nil
		} else if !os.IsExist(err) {
			return nil, &mailstore.IoError{Op: "link", Path: targetFull, Err: err}
		}
	}
	return nil, fmt.Errorf("maildirengine: exhausted attempts committing message")
}

func randomSuffix() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}
