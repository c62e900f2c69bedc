package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when an operation targets a chat that does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database holding chats and messages.
//
// All writes go through mu so that the derived chat fields (last_message_at,
// unread_count) are never updated concurrently; reads take the shared side.
type DB struct {
	conn      *sql.DB
	mu        sync.RWMutex
	mutations atomic.Int64
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// synchronous=FULL makes every committed write durable before the call returns.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Mutations returns the number of committed mutating operations since Open.
func (db *DB) Mutations() int64 {
	return db.mutations.Load()
}

// ChatCount returns the number of chats.
func (db *DB) ChatCount() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

// MessageCount returns the number of messages.
func (db *DB) MessageCount() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// DefaultPageSize is the limit applied when a caller passes limit <= 0.
const DefaultPageSize = 50

func normalizePage(offset, limit int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}
