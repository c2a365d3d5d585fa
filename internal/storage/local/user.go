/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package local

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	imap "github.com/emersion/go-imap"
	imapbackend "github.com/emersion/go-imap/backend"

	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/compress"
	"github.com/localbox/mailstore/internal/mailstore/headercache"
	"github.com/localbox/mailstore/internal/mailstore/headerparse"
	"github.com/localbox/mailstore/internal/mailstore/maildirengine"
	"github.com/localbox/mailstore/internal/mailstore/mhengine"
	mdpath "github.com/localbox/mailstore/internal/mailstore/path"
	"github.com/localbox/mailstore/internal/mailstore/sortby"
)

// User adapts a single on-disk account directory to imapbackend.User.
// Each of its subdirectories that looks like a mailbox (Maildir's
// new/cur/tmp triple, or a flat numbered MH folder) is opened lazily on
// first access and then kept resident for the life of the process.
type User struct {
	username string
	root     string
	storage  *Storage
	cfg      mailstore.Config

	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
}

func newUser(username, root string, storage *Storage, cfg mailstore.Config) *User {
	return &User{
		username:  username,
		root:      root,
		storage:   storage,
		cfg:       cfg,
		mailboxes: make(map[string]*Mailbox),
	}
}

// Username implements imapbackend.User
func (u *User) Username() string { return u.username }

func (u *User) mailboxPath(name string) string {
	return filepath.Join(u.root, filepath.FromSlash(name))
}

// detectKind classifies path as Maildir or MH using spec §6's
// path_probe operation (maildir_path_probe checks only cur/,
// mh_path_probe checks the known sequence/client-cache sidecars). A
// freshly created, still-empty account directory matches neither probe
// and falls back to MH, matching the engine's historical default.
func detectKind(path string) mailstore.Kind {
	if mdpath.MaildirProbe(path) {
		return mailstore.KindMaildir
	}
	if mdpath.MHProbe(path) {
		return mailstore.KindMH
	}
	return mailstore.KindMH
}

func (u *User) openMailbox(name string) (*Mailbox, error) {
	u.mu.RLock()
	if mb, ok := u.mailboxes[name]; ok {
		u.mu.RUnlock()
		return mb, nil
	}
	u.mu.RUnlock()

	path := u.mailboxPath(name)
	var engine mailstore.Engine

	// A mailbox whose path names an existing regular file with a
	// recognised compressed-archive extension is opened through the
	// compressed wrapper (spec §4.J) instead of being probed as a
	// Maildir/MH directory directly.
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		if cmds, ok := compress.CommandsForFile(path); ok {
			engine = compress.New(path, u.cfg, cmds, compress.DefaultDelegate, nil)
			if _, err := engine.Open(mailstore.NoCancel{}); err != nil {
				return nil, err
			}
			u.mu.Lock()
			mb := newMailbox(name, u, engine)
			u.mailboxes[name] = mb
			u.mu.Unlock()
			return mb, nil
		}
	}

	switch detectKind(path) {
	case mailstore.KindMaildir:
		for _, sub := range []string{"new", "cur", "tmp"} {
			os.MkdirAll(filepath.Join(path, sub), 0o700)
		}
		e := maildirengine.New(path, u.cfg)
		e.Cache = headercache.NewSQLite(filepath.Join(path, ".header_cache.db"))
		e.ParseHeaders = headerparse.DefaultParseHeaders
		e.SortBy = sortby.Default
		engine = e
	default:
		os.MkdirAll(path, 0o700)
		e := mhengine.New(path, u.cfg)
		e.Cache = headercache.NewSQLite(filepath.Join(path, ".header_cache.db"))
		e.ParseHeaders = headerparse.DefaultParseHeaders
		e.SortBy = sortby.Default
		engine = e
	}

	if _, err := engine.Open(mailstore.NoCancel{}); err != nil {
		return nil, err
	}

	u.mu.Lock()
	mb := newMailbox(name, u, engine)
	u.mailboxes[name] = mb
	u.mu.Unlock()
	return mb, nil
}

// ListMailboxes implements imapbackend.User
func (u *User) ListMailboxes(subscribed bool) ([]imap.MailboxInfo, error) {
	entries, err := os.ReadDir(u.root)
	if err != nil {
		return nil, &mailstore.IoError{Op: "readdir", Path: u.root, Err: err}
	}

	var infos []imap.MailboxInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		mb, err := u.openMailbox(e.Name())
		if err != nil {
			continue
		}
		if subscribed && !mb.subscribed {
			continue
		}
		infos = append(infos, imap.MailboxInfo{Attributes: []string{}, Delimiter: "/", Name: mb.name})
	}
	return infos, nil
}

// GetMailbox implements imapbackend.User
func (u *User) GetMailbox(name string, readOnly bool, conn imapbackend.Conn) (*imap.MailboxStatus, imapbackend.Mailbox, error) {
	mb, err := u.openMailbox(name)
	if err != nil {
		return nil, nil, imapbackend.ErrNoSuchMailbox
	}
	status, err := mb.Status([]imap.StatusItem{
		imap.StatusMessages, imap.StatusRecent, imap.StatusUnseen,
		imap.StatusUidNext, imap.StatusUidValidity,
	})
	if err != nil {
		return nil, nil, err
	}
	return status, mb, nil
}

// Status implements imapbackend.User
func (u *User) Status(mbox string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	mb, err := u.openMailbox(mbox)
	if err != nil {
		return nil, imapbackend.ErrNoSuchMailbox
	}
	return mb.Status(items)
}

// SetSubscribed implements imapbackend.User
func (u *User) SetSubscribed(mbox string, subscribed bool) error {
	mb, err := u.openMailbox(mbox)
	if err != nil {
		return imapbackend.ErrNoSuchMailbox
	}
	return mb.SetSubscribed(subscribed)
}

// CreateMailbox implements imapbackend.User
func (u *User) CreateMailbox(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.mailboxes[name]; exists {
		return errors.New("local: mailbox already exists")
	}
	if err := os.MkdirAll(u.mailboxPath(name), 0o700); err != nil {
		return err
	}
	delete(u.mailboxes, name) // force re-detection on next open
	return nil
}

// DeleteMailbox implements imapbackend.User
func (u *User) DeleteMailbox(name string) error {
	if name == "INBOX" {
		return errors.New("local: cannot delete INBOX")
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if mb, ok := u.mailboxes[name]; ok {
		mb.Close()
		delete(u.mailboxes, name)
	}
	return os.RemoveAll(u.mailboxPath(name))
}

// RenameMailbox implements imapbackend.User
func (u *User) RenameMailbox(existingName, newName string) error {
	if existingName == "INBOX" {
		return errors.New("local: cannot rename INBOX")
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if mb, ok := u.mailboxes[existingName]; ok {
		mb.Close()
		delete(u.mailboxes, existingName)
	}
	return os.Rename(u.mailboxPath(existingName), u.mailboxPath(newName))
}

// CreateMessage implements imapbackend.User
func (u *User) CreateMessage(mbox string, flags []string, date time.Time, body imap.Literal, selectedMailbox imapbackend.Mailbox) error {
	mb, err := u.openMailbox(mbox)
	if err != nil {
		if err := u.CreateMailbox(mbox); err != nil {
			return err
		}
		mb, err = u.openMailbox(mbox)
		if err != nil {
			return err
		}
	}
	return mb.CreateMessage(flags, date, body)
}

// Logout implements imapbackend.User
func (u *User) Logout() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var firstErr error
	for _, mb := range u.mailboxes {
		if err := mb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	u.storage.updateFirstLogin(u.username)
	return firstErr
}

var _ imapbackend.User = (*User)(nil)
