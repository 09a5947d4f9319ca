// Package bookmark persists per-channel subscription cursor tokens (the
// only durable state the agent keeps — spec.md §6's "Persisted state").
// Two backends are provided, both satisfying internal/subscription.
// CursorStore: a SQLite-backed store (the default) and a BoltDB-backed
// alternative, selectable in internal/config.
package bookmark

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	_ "modernc.org/sqlite"
)

// ErrChannelNotFound is returned by a Store's Read when no bookmark has
// ever been written for the channel; internal/subscription treats this
// the same as an empty token (subscribe from oldest).
var ErrChannelNotFound = errors.New("bookmark: channel not found")

// Store is the persistence contract internal/subscription.CursorStore
// needs: ReadBookmark/WriteBookmark keyed by channel name.
type Store interface {
	ReadBookmark(channel string) (string, error)
	WriteBookmark(channel, token string) error
	Close() error
}

// ---- SQLite-backed store ----------------------------------------------

// SQLiteStore persists bookmarks in a single-table SQLite database,
// grounded on the teacher's daemon/manager/persistence.go PersistentStore
// (same sql.Open("sqlite", path)/connection-pool/initSchema shape,
// generalized from a two-table transfer-session schema to one bookmark
// table keyed by channel).
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if absent) a SQLite bookmark database
// at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open bookmark database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite writers serialize anyway; avoid SQLITE_BUSY
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS channel_bookmarks (
			channel TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("init bookmark schema: %w", err)
	}
	return nil
}

// ReadBookmark returns the channel's persisted token, or ErrChannelNotFound
// if none has ever been written.
func (s *SQLiteStore) ReadBookmark(channel string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var token string
	err := s.db.QueryRow(`SELECT token FROM channel_bookmarks WHERE channel = ?`, channel).Scan(&token)
	if err == sql.ErrNoRows {
		return "", ErrChannelNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read bookmark for %q: %w", channel, err)
	}
	return token, nil
}

// WriteBookmark upserts the channel's token.
func (s *SQLiteStore) WriteBookmark(channel, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO channel_bookmarks (channel, token, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(channel) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		channel, token, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("write bookmark for %q: %w", channel, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- BoltDB-backed store -----------------------------------------------

var bucketBookmarks = []byte("channel_bookmarks")

// BoltStore is the alternate embedded-KV bookmark backend, grounded on
// the teacher's daemon/service/dtn_queue.go bolt-bucket idiom
// (db.Open with a timeout, CreateBucketIfNotExists, Update/View
// transactions over one bucket).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB bookmark database at
// dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt bookmark database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketBookmarks)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt bookmark bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// ReadBookmark returns the channel's persisted token, or ErrChannelNotFound
// if none has ever been written.
func (b *BoltStore) ReadBookmark(channel string) (string, error) {
	var token string
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBookmarks).Get([]byte(channel))
		if v != nil {
			token = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read bolt bookmark for %q: %w", channel, err)
	}
	if !found {
		return "", ErrChannelNotFound
	}
	return token, nil
}

// WriteBookmark upserts the channel's token.
func (b *BoltStore) WriteBookmark(channel, token string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBookmarks).Put([]byte(channel), []byte(token))
	})
	if err != nil {
		return fmt.Errorf("write bolt bookmark for %q: %w", channel, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
