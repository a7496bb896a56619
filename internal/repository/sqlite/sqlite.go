// Package sqlite implements the repository interfaces on SQLite, using the
// pure-Go modernc.org/sqlite driver (no cgo).
//
// The pattern is the usual database/sql one: sql.Open returns a pool, every
// query takes a context, and multi-statement operations run in a *sql.Tx.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now as the source of server timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/alchemy.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests; lost on close)
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty
	// database, so the pool is pinned to a single connection.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn attaches per-connection pragmas. They go in the DSN rather than a
// one-off Exec so every connection the pool opens gets them.
//
//   - journal_mode(WAL): readers don't block the writer
//   - busy_timeout: wait for the write lock instead of failing with SQLITE_BUSY
//   - _txlock=immediate: transactions take the write lock up front
func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return dbPath
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + q.Encode()
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
//
// Timestamps are stored as Unix microseconds so that SQL can compare them
// numerically (MAX(last_login, ?)). The nested preferences and the three
// reserved collections are JSON text written once, at insert.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			uid           TEXT PRIMARY KEY,
			email         TEXT NOT NULL DEFAULT '',
			display_name  TEXT NOT NULL DEFAULT '',
			photo_url     TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			last_login    INTEGER NOT NULL,
			preferences   TEXT NOT NULL DEFAULT '{}',
			cabinet       TEXT NOT NULL DEFAULT '[]',
			saved_drinks  TEXT NOT NULL DEFAULT '[]',
			drink_history TEXT NOT NULL DEFAULT '[]'
		);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}
	return nil
}
