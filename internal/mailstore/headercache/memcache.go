// Package headercache provides concrete implementations of the
// mailstore.HeaderCache trait (spec §9): an in-memory one for tests and a
// SQLite-backed one (gorm.io/gorm + gorm.io/driver/sqlite, already direct
// dependencies of the surrounding stack) for real use.
package headercache

import (
	"sync"

	"github.com/localbox/mailstore/internal/mailstore"
)

// Memory is a process-local HeaderCache, useful for tests and for
// mailboxes too small to bother with a SQLite handle.
type Memory struct {
	mu      sync.RWMutex
	blobs   map[string]mailstore.HeaderCacheBlob
	opened  bool
}

// NewMemory returns an unopened in-memory header cache.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]mailstore.HeaderCacheBlob)}
}

func (m *Memory) Open(mailboxPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *Memory) Fetch(key string) (mailstore.HeaderCacheBlob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	return b, ok, nil
}

func (m *Memory) Store(key string, blob mailstore.HeaderCacheBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}
