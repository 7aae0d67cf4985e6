// Package graphstore defines the remote graph-store connection collaborator.
//
// The collection itself is purely in-memory. Persistence is delegated to a
// [Conn] that executes parameterised statements against a backing store and
// returns rows as generic records. Implementations live in the postgres and
// sqlite subpackages; mock provides a recording test double.
//
// Connections own their timeout and retry policy. Callers wrap them with
// internal/resilience when they want bounded retries and a circuit breaker.
package graphstore

import "context"

// Query is one parameterised statement. Placeholders follow the backend's
// dialect ($1 for PostgreSQL, ? for SQLite).
type Query struct {
	Statement string
	Args      []any
}

// Record is one result row keyed by column name.
type Record map[string]any

// Conn executes queries against a backing store.
//
// All implementations must be safe for concurrent use.
type Conn interface {
	// Execute runs q and returns its result rows. Statements that return no
	// rows yield a nil slice.
	Execute(ctx context.Context, q Query) ([]Record, error)
}

// Pinger is implemented by connections that can check liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is implemented by connections that can name their backend, used
// as a metric attribute.
type Backend interface {
	Backend() string
}

// BackendName returns c's backend name, or "unknown".
func BackendName(c Conn) string {
	if b, ok := c.(Backend); ok {
		return b.Backend()
	}
	return "unknown"
}
