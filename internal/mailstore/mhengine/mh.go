// Package mhengine implements spec §4.F-I for the MH format: open,
// incremental check, sync/commit, and new-message allocation, built on
// components A, B, D and E from the sibling mailstore packages.
package mhengine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localbox/mailstore/internal/mailmetrics"
	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/headerparse"
	"github.com/localbox/mailstore/internal/mailstore/mhseq"
	"github.com/localbox/mailstore/internal/mailstore/scan"
	"github.com/localbox/mailstore/internal/mailstore/seqtable"
	"github.com/localbox/mailstore/internal/mailstore/tempfile"
)

const sequencesFile = ".mh_sequences"

// MH is a mailstore.Engine backed by a flat, decimal-numbered MH folder
// (spec §6).
type MH struct {
	root string
	cfg  mailstore.Config

	Cache        mailstore.HeaderCache
	ParseHeaders mailstore.ParseHeaders
	SortBy       mailstore.SortBy
	FlagSetter   mailstore.FlagSetter

	mbox  *mailstore.Mailbox
	table *seqtable.Table
}

// New returns an unopened MH engine rooted at root.
func New(root string, cfg mailstore.Config) *MH {
	return &MH{root: root, cfg: cfg}
}

func (m *MH) Mailbox() *mailstore.Mailbox { return m.mbox }

func (m *MH) openFile(rel string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(m.root, rel))
}

func (m *MH) sequencesPath() string { return filepath.Join(m.root, sequencesFile) }

// Open implements spec §4.F for MH: scan the flat directory, lazily
// parse headers, then overlay .mh_sequences onto the unseen/flagged/
// replied bits.
func (m *MH) Open(cancel mailstore.CancelToken) (*mailstore.Mailbox, error) {
	timer := prometheus.NewTimer(mailmetrics.ScanDuration.WithLabelValues("mh"))
	defer timer.ObserveDuration()

	var entries []*scan.Entry
	if err := scan.MH(m.root, cancel, &entries); err != nil {
		return nil, err
	}

	if m.Cache != nil {
		if err := m.Cache.Open(m.root); err != nil {
			return nil, err
		}
	}

	if err := headerparse.Run(entries, headerparse.Options{
		Mode:         scan.ModeMH,
		MailboxRoot:  m.root,
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

	table := &seqtable.Table{}
	if err := mhseq.Read(m.sequencesPath(), mhseq.Names(m.cfg.SequenceNames), table); err != nil {
		return nil, err
	}
	m.table = table

	realpath, err := filepath.EvalSymlinks(m.root)
	if err != nil {
		realpath = m.root
	}

	mb := &mailstore.Mailbox{
		Path:     m.root,
		RealPath: realpath,
		Kind:     mailstore.KindMH,
	}
	for _, e := range entries {
		if e.Email == nil {
			continue
		}
		applySequences(e.Email, table)
		mb.Messages = append(mb.Messages, e.Email)
	}
	sortByNumber(mb.Messages)
	for i, e := range mb.Messages {
		e.Index = i
	}

	mb.MH.Umask = umaskFor(m.root)
	if info, err := os.Stat(m.root); err == nil {
		mb.MTime = info.ModTime()
		mb.MH.MTimeCur = info.ModTime()
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

func messageNumber(email *mailstore.Email) (int, error) {
	base := filepath.Base(email.Path)
	base = strings.TrimPrefix(base, ",")
	return strconv.Atoi(base)
}

func applySequences(email *mailstore.Email, table *seqtable.Table) {
	n, err := messageNumber(email)
	if err != nil {
		return
	}
	bits := table.Get(n)
	email.Read = bits&seqtable.Unseen == 0
	email.Flagged = bits&seqtable.Flagged != 0
	email.Replied = bits&seqtable.Replied != 0
}

func sortByNumber(messages []*mailstore.Email) {
	sort.SliceStable(messages, func(i, j int) bool {
		ni, _ := messageNumber(messages[i])
		nj, _ := messageNumber(messages[j])
		return ni < nj
	})
}

// Check implements spec §4.G for MH. Change detection looks only at the
// directory's mtime: when it has advanced, the folder is rescanned and
// .mh_sequences is re-read (replacing .mh_sequences by rename advances the
// directory mtime). An in-place rewrite of .mh_sequences that leaves the
// directory mtime unchanged is not detected.
func (m *MH) Check(cancel mailstore.CancelToken) (mailstore.CheckResult, error) {
	mb := m.mbox
	info, err := os.Stat(m.root)
	if err != nil {
		return mailstore.Unchanged, &mailstore.IoError{Op: "stat", Path: m.root, Err: err}
	}
	if !info.ModTime().After(mb.MTime) {
		return mailstore.Unchanged, nil
	}
	mb.MTime = info.ModTime()
	mb.MH.MTimeCur = info.ModTime()

	var entries []*scan.Entry
	if err := scan.MH(m.root, cancel, &entries); err != nil {
		return mailstore.Unchanged, err
	}
	if err := headerparse.Run(entries, headerparse.Options{
		Mode:         scan.ModeMH,
		MailboxRoot:  m.root,
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

	table := &seqtable.Table{}
	if err := mhseq.Read(m.sequencesPath(), mhseq.Names(m.cfg.SequenceNames), table); err != nil {
		return mailstore.Unchanged, err
	}
	m.table = table

	discovered := make(map[int]*mailstore.Email, len(entries))
	for _, e := range entries {
		if e.Email == nil {
			continue
		}
		if n, err := messageNumber(e.Email); err == nil {
			discovered[n] = e.Email
		}
	}

	result := mailstore.Unchanged
	occult := false
	var kept []*mailstore.Email

	for _, email := range mb.Messages {
		n, err := messageNumber(email)
		if err != nil {
			continue
		}
		fresh, found := discovered[n]
		if !found {
			occult = true
			continue
		}
		applySequences(fresh, table)
		if !email.Changed {
			if mergeFlags(email, fresh, m.FlagSetter) {
				result = mailstore.Combine(result, mailstore.FlagsChanged)
			}
		}
		delete(discovered, n)
		kept = append(kept, email)
	}

	if occult {
		result = mailstore.Combine(result, mailstore.Reopened)
	}

	for _, fresh := range discovered {
		applySequences(fresh, table)
		kept = append(kept, fresh)
		result = mailstore.Combine(result, mailstore.NewMail)
		mb.HasNew = true
	}

	sortByNumber(kept)
	for i, e := range kept {
		e.Index = i
	}
	mb.Messages = kept
	recomputeTallies(mb)
	return result, nil
}

func mergeFlags(old, discovered *mailstore.Email, set mailstore.FlagSetter) bool {
	changed := false
	apply := func(bit string, oldVal, newVal bool) {
		if oldVal != newVal {
			if set != nil {
				set(old, bit, newVal)
			}
			changed = true
		}
	}
	apply("flagged", old.Flagged, discovered.Flagged)
	old.Flagged = discovered.Flagged
	apply("replied", old.Replied, discovered.Replied)
	old.Replied = discovered.Replied
	apply("read", old.Read, discovered.Read)
	old.Read = discovered.Read
	return changed
}

// Sync implements spec §4.H for MH: purge or tombstone deleted messages,
// then rewrite .mh_sequences from the surviving in-memory state.
func (m *MH) Sync() (mailstore.CheckResult, error) {
	if res, err := m.Check(mailstore.NoCancel{}); err != nil {
		mailmetrics.SyncTotal.WithLabelValues("mh", "error").Inc()
		return mailstore.Unchanged, err
	} else if res != mailstore.Unchanged {
		mailmetrics.SyncTotal.WithLabelValues("mh", res.String()).Inc()
		return res, nil
	}

	mb := m.mbox
	var kept []*mailstore.Email
	for _, email := range mb.Messages {
		keep, err := m.syncOne(email)
		if err != nil {
			mailmetrics.SyncTotal.WithLabelValues("mh", "error").Inc()
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
	mailmetrics.MessagesTotal.WithLabelValues("mh").Set(float64(len(mb.Messages)))

	table := &seqtable.Table{}
	for _, e := range mb.Messages {
		n, err := messageNumber(e)
		if err != nil {
			continue
		}
		var bits seqtable.Bit
		if !e.Read {
			bits |= seqtable.Unseen
		}
		if e.Flagged {
			bits |= seqtable.Flagged
		}
		if e.Replied {
			bits |= seqtable.Replied
		}
		table.Set(n, bits)
	}
	m.table = table
	if err := mhseq.Write(m.sequencesPath(), mhseq.Names(m.cfg.SequenceNames), table); err != nil {
		return mailstore.Unchanged, err
	}

	if info, err := os.Stat(m.root); err == nil {
		mb.MTime = info.ModTime()
		mb.MH.MTimeCur = info.ModTime()
	}
	return mailstore.Unchanged, nil
}

func (m *MH) syncOne(email *mailstore.Email) (bool, error) {
	full := filepath.Join(m.root, email.Path)

	if email.Deleted {
		if m.cfg.MHPurge {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return false, &mailstore.IoError{Op: "unlink", Path: full, Err: err}
			}
		} else if !strings.HasPrefix(filepath.Base(email.Path), ",") {
			tombstone := filepath.Join(filepath.Dir(email.Path), ","+filepath.Base(email.Path))
			if err := os.Rename(full, filepath.Join(m.root, tombstone)); err != nil {
				return false, &mailstore.IoError{Op: "rename", Path: full, Err: err}
			}
		}
		if m.Cache != nil {
			_ = m.Cache.Delete(email.Path)
		}
		return false, nil
	}

	if email.AttachDel || email.XLabelChanged || email.RefsChanged || email.IRTChanged {
		if err := m.rewriteMessage(email); err != nil {
			return false, err
		}
	}
	email.Changed = false
	return true, nil
}

// rewriteMessage replaces a message's body in place, preserving its
// message number, the way neomutt's mh_rewrite_message avoids burning a
// new sequence slot for an in-place edit.
func (m *MH) rewriteMessage(email *mailstore.Email) error {
	full := filepath.Join(m.root, email.Path)
	tmp, tmpPath, err := tempfile.New(m.root, "mh-rewrite", 0o600)
	if err != nil {
		return err
	}
	src, err := os.Open(full)
	if err != nil {
		tmp.Close()
		tempfile.Unlink(tmpPath)
		return &mailstore.IoError{Op: "open", Path: full, Err: err}
	}
	_, copyErr := io.Copy(tmp, src)
	src.Close()
	tmp.Close()
	if copyErr != nil {
		tempfile.Unlink(tmpPath)
		return &mailstore.IoError{Op: "copy", Path: full, Err: copyErr}
	}
	if err := os.Rename(tmpPath, full); err != nil {
		tempfile.Unlink(tmpPath)
		return &mailstore.IoError{Op: "rename", Path: full, Err: err}
	}
	email.AttachDel = false
	email.XLabelChanged = false
	email.RefsChanged = false
	email.IRTChanged = false
	return nil
}

func (m *MH) Close() error {
	if m.Cache != nil {
		return m.Cache.Close()
	}
	return nil
}

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

// NewMessage implements spec §4.I's MH path: stage the body in a
// tempfile.New-allocated temp, deferring number allocation to Commit.
func (m *MH) NewMessage(email *mailstore.Email) (mailstore.MessageWriter, error) {
	f, tmpPath, err := tempfile.New(m.root, "mh", 0o600)
	if err != nil {
		return nil, err
	}
	return &messageWriter{f: f, tmpPath: tmpPath}, nil
}

// Commit implements spec §4.I's MH path: scan for the current maximum
// message number and link into place, retrying the next free number on
// EEXIST (another process may have raced the same allocation), then
// append the new number into .mh_sequences.
func (m *MH) Commit(email *mailstore.Email, w mailstore.MessageWriter) (*mailstore.Email, error) {
	mw, ok := w.(*messageWriter)
	if !ok {
		return nil, fmt.Errorf("mhengine: foreign MessageWriter")
	}
	if err := mw.f.Close(); err != nil {
		tempfile.Unlink(mw.tmpPath)
		return nil, &mailstore.IoError{Op: "close", Path: mw.tmpPath, Err: err}
	}

	next := m.maxNumber() + 1
	for attempt := 0; attempt < 1000; attempt++ {
		target := strconv.Itoa(next)
		targetFull := filepath.Join(m.root, target)
		if err := os.Link(mw.tmpPath, targetFull); err == nil {
			tempfile.Unlink(mw.tmpPath)
			committed := *email
			committed.Path = target
			if err := mhseq.AppendOne(m.sequencesPath(), mhseq.Names(m.cfg.SequenceNames), next, !email.Read, email.Flagged, email.Replied); err != nil {
				return nil, err
			}
			return &committed, nil
		} else if !os.IsExist(err) {
			return nil, &mailstore.IoError{Op: "link", Path: targetFull, Err: err}
		}
		next++
	}
	return nil, fmt.Errorf("mhengine: exhausted attempts committing message")
}

// maxNumber re-derives the current high-water mark from the directory
// rather than trusting in-memory state, since another process may have
// delivered mail since Open/Check last ran.
func (m *MH) maxNumber() int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}
	max := 0
	for _, e := range entries {
		name := strings.TrimPrefix(e.Name(), ",")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}
