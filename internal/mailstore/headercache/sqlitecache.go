package headercache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/localbox/mailstore/internal/mailstore"
)

// blobVersion is written to the Version column of every row, beside the
// gob payload (design note: "the
// serialization must be versioned because an Email's in-memory layout is
// host-specific").
const blobVersion = 1

// row is the GORM model backing the header cache table.
type row struct {
	Key           string `gorm:"primaryKey"`
	Version       int
	TimestampUnix int64
	Payload       []byte
}

func (row) TableName() string { return "header_cache" }

// SQLite is a HeaderCache backed by a single-table SQLite database,
// exercising gorm.io/gorm + gorm.io/driver/sqlite the way internal/db
// uses GORM elsewhere in the surrounding stack.
type SQLite struct {
	dsn string

	mu sync.Mutex
	db *gorm.DB
}

// NewSQLite returns a HeaderCache whose backing file is dsn (a filesystem
// path, or ":memory:" for tests).
func NewSQLite(dsn string) *SQLite {
	return &SQLite{dsn: dsn}
}

func (c *SQLite) Open(mailboxPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, err := gorm.Open(sqlite.Open(c.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("headercache: open %s: %w", c.dsn, err)
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return fmt.Errorf("headercache: migrate %s: %w", c.dsn, err)
	}
	c.db = db
	return nil
}

func (c *SQLite) Fetch(key string) (mailstore.HeaderCacheBlob, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return mailstore.HeaderCacheBlob{}, false, mailstore.ErrRecoverableMiss
	}

	var r row
	tx := c.db.Where("key = ?", key).First(&r)
	if tx.Error != nil {
		if tx.Error == gorm.ErrRecordNotFound {
			return mailstore.HeaderCacheBlob{}, false, nil
		}
		return mailstore.HeaderCacheBlob{}, false, tx.Error
	}

	var email mailstore.Email
	if err := gob.NewDecoder(bytes.NewReader(r.Payload)).Decode(&email); err != nil {
		return mailstore.HeaderCacheBlob{}, false, fmt.Errorf("headercache: decode %s: %w", key, err)
	}
	return mailstore.HeaderCacheBlob{
		Version:       r.Version,
		Email:         email,
		TimestampUnix: r.TimestampUnix,
	}, true, nil
}

func (c *SQLite) Store(key string, blob mailstore.HeaderCacheBlob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return mailstore.ErrRecoverableMiss
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob.Email); err != nil {
		return fmt.Errorf("headercache: encode %s: %w", key, err)
	}

	r := row{
		Key:           key,
		Version:       blobVersion,
		TimestampUnix: blob.TimestampUnix,
		Payload:       buf.Bytes(),
	}
	return c.db.Save(&r).Error
}

func (c *SQLite) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	return c.db.Where("key = ?", key).Delete(&row{}).Error
}

func (c *SQLite) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	c.db = nil
	return sqlDB.Close()
}
