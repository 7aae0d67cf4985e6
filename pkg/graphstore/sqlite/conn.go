// Package sqlite provides an embedded SQLite-backed [graphstore.Conn] using
// the pure-Go modernc.org/sqlite driver.
//
// The database is opened with a single connection, so all statements are
// serialised through one writer. WAL journaling, a busy timeout and foreign
// key enforcement are switched on at open time.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/MrWong99/photobox/pkg/graphstore"
)

// Compile-time interface checks.
var (
	_ graphstore.Conn    = (*Conn)(nil)
	_ graphstore.Pinger  = (*Conn)(nil)
	_ graphstore.Backend = (*Conn)(nil)
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// pragmas are applied to the single connection after open.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
}

// Conn is an SQLite database handle. It is safe for concurrent use.
type Conn struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database file at path. Parent
// directories are created with mode 0700. Use [MemoryPath] for a throwaway
// database.
func Open(ctx context.Context, path string) (*Conn, error) {
	if path == "" {
		path = "photobox.db"
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("sqlite graphstore: create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite graphstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite graphstore: %s: %w", p, err)
		}
	}
	return &Conn{db: db, path: path}, nil
}

// Execute implements [graphstore.Conn].
func (c *Conn) Execute(ctx context.Context, q graphstore.Query) ([]graphstore.Record, error) {
	rows, err := c.db.QueryContext(ctx, q.Statement, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite graphstore: execute: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite graphstore: columns: %w", err)
	}

	var out []graphstore.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlite graphstore: scan: %w", err)
		}
		rec := make(graphstore.Record, len(cols))
		for i, col := range cols {
			rec[col] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite graphstore: rows: %w", err)
	}
	return out, nil
}

// Ping implements [graphstore.Pinger].
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Backend implements [graphstore.Backend].
func (c *Conn) Backend() string { return "sqlite" }

// Path returns the database path the connection was opened with.
func (c *Conn) Path() string { return c.path }

// Close closes the database.
func (c *Conn) Close() error {
	return c.db.Close()
}
