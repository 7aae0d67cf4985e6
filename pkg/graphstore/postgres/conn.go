// Package postgres provides a PostgreSQL-backed [graphstore.Conn].
//
// All statements share a single [pgxpool.Pool]. Result rows are collected
// with [pgx.RowToMap], so JSONB columns arrive already decoded.
//
// Usage:
//
//	conn, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer conn.Close()
//
//	rows, err := conn.Execute(ctx, graphstore.Query{
//		Statement: "SELECT id, key FROM photobox_entities WHERE kind = $1",
//		Args:      []any{"set"},
//	})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/photobox/pkg/graphstore"
)

// Compile-time interface checks.
var (
	_ graphstore.Conn    = (*Conn)(nil)
	_ graphstore.Pinger  = (*Conn)(nil)
	_ graphstore.Backend = (*Conn)(nil)
)

// Conn is a pooled PostgreSQL connection. It is safe for concurrent use.
type Conn struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool to the database at dsn and verifies it with
// a ping.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres graphstore: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres graphstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres graphstore: ping: %w", err)
	}
	return &Conn{pool: pool}, nil
}

// New wraps an existing pool. The caller keeps ownership of the pool.
func New(pool *pgxpool.Pool) *Conn {
	return &Conn{pool: pool}
}

// Execute implements [graphstore.Conn]. Only a single statement per query is
// supported; the extended protocol rejects multi-statement strings.
func (c *Conn) Execute(ctx context.Context, q graphstore.Query) ([]graphstore.Record, error) {
	rows, err := c.pool.Query(ctx, q.Statement, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graphstore: execute: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("postgres graphstore: collect rows: %w", err)
	}
	if len(maps) == 0 {
		return nil, nil
	}
	out := make([]graphstore.Record, len(maps))
	for i, m := range maps {
		out[i] = graphstore.Record(m)
	}
	return out, nil
}

// Ping implements [graphstore.Pinger].
func (c *Conn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Backend implements [graphstore.Backend].
func (c *Conn) Backend() string { return "postgres" }

// Close releases all connections held by the pool.
func (c *Conn) Close() {
	c.pool.Close()
}
