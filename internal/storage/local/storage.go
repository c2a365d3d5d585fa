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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	imapbackend "github.com/emersion/go-imap/backend"

	"github.com/localbox/mailstore/internal/config"
	"github.com/localbox/mailstore/internal/log"
	"github.com/localbox/mailstore/internal/mailstore"
)

// Storage implements a filesystem-backed IMAP storage module: one
// directory per account, each holding Maildir or MH subdirectories.
// Modules of this shape are registered with prefix "storage." in name in
// the surrounding server, mirroring internal/storage/memory.
type Storage struct {
	modName  string
	instName string
	log      log.Logger

	rootDir    string
	engineCfg  mailstore.Config
	autoCreate bool

	mu       sync.RWMutex
	users    map[string]*User
	accounts map[string]int64 // username -> created unix
}

// New creates a new filesystem storage backend rooted at a directory
// read from config.
func New(modName, instName string, _, _ []string) (*Storage, error) {
	return &Storage{
		modName:   modName,
		instName:  instName,
		engineCfg: mailstore.DefaultConfig(),
		users:     make(map[string]*User),
		accounts:  make(map[string]int64),
	}, nil
}

func (s *Storage) Init(cfg *config.Map) error {
	s.log = log.Logger{Name: s.modName}

	cfg.String("root_dir", false, true, "", &s.rootDir)
	cfg.Bool("auto_create", false, false, &s.autoCreate)
	cfg.Bool("check_new", false, false, &s.engineCfg.CheckNew)
	cfg.Bool("maildir_trash", false, false, &s.engineCfg.MaildirTrash)
	cfg.Bool("mh_purge_deleted", false, false, &s.engineCfg.MHPurge)
	cfg.Bool("save_empty", false, false, &s.engineCfg.SaveEmpty)
	cfg.String("mbox_sort", false, false, s.engineCfg.SortOrder, &s.engineCfg.SortOrder)

	if _, err := cfg.Process(); err != nil {
		return err
	}
	if s.rootDir == "" {
		return errors.New("local: root_dir is required")
	}
	return os.MkdirAll(s.rootDir, 0o700)
}

func (s *Storage) Name() string         { return s.modName }
func (s *Storage) InstanceName() string { return s.instName }

func (s *Storage) userDir(username string) string {
	return filepath.Join(s.rootDir, username)
}

// GetOrCreateIMAPAcct implements module.Storage
func (s *Storage) GetOrCreateIMAPAcct(username string) (imapbackend.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		if !s.autoCreate {
			if _, err := os.Stat(s.userDir(username)); os.IsNotExist(err) {
				return nil, errors.New("local: account does not exist")
			}
		}
		if err := os.MkdirAll(filepath.Join(s.userDir(username), "INBOX"), 0o700); err != nil {
			return nil, err
		}
		user = newUser(username, s.userDir(username), s, s.engineCfg)
		s.users[username] = user
		s.accounts[username] = time.Now().Unix()
	}
	return user, nil
}

// GetIMAPAcct implements module.Storage
func (s *Storage) GetIMAPAcct(username string) (imapbackend.User, error) {
	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()
	if exists {
		return user, nil
	}

	if _, err := os.Stat(s.userDir(username)); os.IsNotExist(err) {
		return nil, errors.New("local: account does not exist")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	user = newUser(username, s.userDir(username), s, s.engineCfg)
	s.users[username] = user
	return user, nil
}

// IMAPExtensions implements module.Storage
func (s *Storage) IMAPExtensions() []string {
	return []string{"IDLE", "UNSELECT", "UIDPLUS", "CHILDREN"}
}

// ListIMAPAccts implements module.ManageableStorage
func (s *Storage) ListIMAPAccts() ([]string, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// CreateIMAPAcct implements module.ManageableStorage
func (s *Storage) CreateIMAPAcct(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("local: account %s already exists", username)
	}
	if err := os.MkdirAll(filepath.Join(s.userDir(username), "INBOX"), 0o700); err != nil {
		return err
	}
	s.users[username] = newUser(username, s.userDir(username), s, s.engineCfg)
	s.accounts[username] = time.Now().Unix()
	return nil
}

// DeleteIMAPAcct implements module.ManageableStorage
func (s *Storage) DeleteIMAPAcct(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, exists := s.users[username]; exists {
		user.Logout()
		delete(s.users, username)
	}
	delete(s.accounts, username)
	return os.RemoveAll(s.userDir(username))
}

// GetAccountDate implements module.ManageableStorage
func (s *Storage) GetAccountDate(username string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	created, ok := s.accounts[username]
	if !ok {
		return 0, fmt.Errorf("local: account %s does not exist", username)
	}
	return created, nil
}

func (s *Storage) updateFirstLogin(username string) {
	s.log.Debugf("user %s logged out", username)
}

var _ imapbackend.Backend = (*storageBackend)(nil)

// storageBackend adapts Storage to go-imap's own backend.Backend
// interface (username/password login), separate from the broader
// module.Storage surface the host framework expects.
type storageBackend struct {
	*Storage
}

func (b *storageBackend) Login(conn imapbackend.ConnInfo, username, password string) (imapbackend.User, error) {
	return b.GetOrCreateIMAPAcct(username)
}

// AsBackend wraps s as a plain go-imap backend.Backend, useful for
// standalone tools (cmd/localboxctl) that don't go through the full
// authentication module chain.
func AsBackend(s *Storage) imapbackend.Backend {
	return &storageBackend{s}
}
