// Package persist mirrors a collection into a graph store and loads it back.
//
// A [Mirror] is attached to a collection as a journal. Each event becomes
// one or more SQL statements that are queued in order; [Mirror.Flush] sends
// them to the store. The collection never waits for the store: when it is
// unreachable the queue grows and is retried on the next flush.
//
// Every statement is idempotent: a store call that committed but timed out
// before acknowledging is retried by the guarded connection, and running it
// again must succeed without changing the result.
//
// On startup, [Load] reads the persisted state into a
// [collection.Snapshot] for [collection.Collection.Restore].
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/pkg/collection"
	"github.com/MrWong99/photobox/pkg/graphstore"
	"github.com/MrWong99/photobox/pkg/types"
)

// Compile-time interface check.
var _ collection.Journal = (*Mirror)(nil)

// Mirror queues collection events as graph-store queries.
type Mirror struct {
	conn    graphstore.Conn
	dialect Dialect
	metrics *observe.Metrics
	backend string

	mu      sync.Mutex
	pending []graphstore.Query

	flushMu sync.Mutex
}

// MirrorOption configures a [Mirror].
type MirrorOption func(*Mirror)

// WithMirrorMetrics records store metrics on m instead of
// [observe.DefaultMetrics].
func WithMirrorMetrics(m *observe.Metrics) MirrorOption {
	return func(mr *Mirror) { mr.metrics = m }
}

// NewMirror returns a Mirror writing to conn in dialect d.
func NewMirror(conn graphstore.Conn, d Dialect, opts ...MirrorOption) *Mirror {
	m := &Mirror{conn: conn, dialect: d, backend: graphstore.BackendName(conn)}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Record implements [collection.Journal]. It only appends to the queue.
func (m *Mirror) Record(e collection.Event) {
	qs, err := m.queries(e)
	if err != nil {
		slog.Error("persist: dropping unencodable event", "seq", e.Seq, "type", e.Type, "err", err)
		return
	}
	if len(qs) == 0 {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, qs...)
	m.mu.Unlock()
	m.metrics.StorePending.Add(context.Background(), int64(len(qs)))
}

// Pending returns the number of queued queries.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush executes queued queries in order. It stops at the first failure and
// returns it as a [*types.CollaboratorError]; that query and everything after
// it stay queued for the next flush. Concurrent flushes are serialised.
func (m *Mirror) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return nil
		}
		q := m.pending[0]
		m.mu.Unlock()

		start := time.Now()
		_, err := m.conn.Execute(ctx, q)
		m.metrics.RecordStoreQuery(ctx, m.backend, time.Since(start), err)
		if err != nil {
			return types.Collaborator("persist: flush", err)
		}

		m.mu.Lock()
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.metrics.StorePending.Add(ctx, -1)
	}
}

// Run flushes every interval until ctx is done, then makes one last attempt
// with a short grace period. Failures are logged and retried on the next tick.
func (m *Mirror) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := m.Flush(final); err != nil {
				slog.Warn("final flush failed", "pending", m.Pending(), "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				observe.Logger(ctx).Warn("flush failed, will retry", "pending", m.Pending(), "err", err)
			}
		}
	}
}

// queries translates one event into statements.
func (m *Mirror) queries(e collection.Event) ([]graphstore.Query, error) {
	d := m.dialect
	switch e.Type {
	case collection.EventCreated:
		if e.Entity == nil {
			return nil, fmt.Errorf("created event %d without entity", e.Seq)
		}
		doc, err := json.Marshal(e.Entity.Attributes)
		if err != nil {
			return nil, err
		}
		return []graphstore.Query{
			{
				Statement: fmt.Sprintf(
					"INSERT INTO photobox_entities (id, kind, key, attributes) VALUES (%s, %s, %s, %s) "+
						"ON CONFLICT (id) DO UPDATE SET attributes = excluded.attributes",
					d.P(1), d.P(2), d.P(3), d.JSON(4)),
				Args: []any{int64(e.Entity.ID), string(e.Entity.Kind), e.Entity.Key(), string(doc)},
			},
			{
				Statement: fmt.Sprintf(
					"INSERT INTO photobox_meta (name, value) VALUES ('last_id', %s) "+
						"ON CONFLICT (name) DO UPDATE SET value = excluded.value WHERE excluded.value > photobox_meta.value",
					d.P(1)),
				Args: []any{int64(e.Entity.ID)},
			},
		}, nil

	case collection.EventAttributeSet:
		if e.Entity == nil {
			return nil, fmt.Errorf("attribute event %d without entity", e.Seq)
		}
		doc, err := json.Marshal(e.Entity.Attributes)
		if err != nil {
			return nil, err
		}
		return []graphstore.Query{{
			Statement: fmt.Sprintf("UPDATE photobox_entities SET attributes = %s WHERE id = %s", d.JSON(1), d.P(2)),
			Args:      []any{string(doc), int64(e.Entity.ID)},
		}}, nil

	case collection.EventDeleted:
		if e.Entity == nil {
			return nil, fmt.Errorf("deleted event %d without entity", e.Seq)
		}
		return []graphstore.Query{{
			Statement: fmt.Sprintf("DELETE FROM photobox_entities WHERE id = %s", d.P(1)),
			Args:      []any{int64(e.Entity.ID)},
		}}, nil

	case collection.EventLinked:
		if e.Edge == nil {
			return nil, fmt.Errorf("linked event %d without edge", e.Seq)
		}
		// Append after the parent's current last member. A child already
		// stored under the same parent keeps its row.
		return []graphstore.Query{{
			Statement: fmt.Sprintf(
				"INSERT INTO photobox_edges (child_id, parent_id, rel_type, position) "+
					"SELECT %s, %s, '%s', COALESCE(MAX(position), -1) + 1 FROM photobox_edges WHERE parent_id = %s "+
					"ON CONFLICT (child_id) DO UPDATE SET parent_id = excluded.parent_id, position = excluded.position "+
					"WHERE photobox_edges.parent_id <> excluded.parent_id",
				d.Int(1), d.Int(2), types.RelIn, d.P(3)),
			Args: []any{int64(e.Edge.Child), int64(e.Edge.Parent), int64(e.Edge.Parent)},
		}}, nil

	case collection.EventUnlinked:
		if e.Edge == nil {
			return nil, fmt.Errorf("unlinked event %d without edge", e.Seq)
		}
		return []graphstore.Query{{
			Statement: fmt.Sprintf("DELETE FROM photobox_edges WHERE child_id = %s", d.P(1)),
			Args:      []any{int64(e.Edge.Child)},
		}}, nil

	case collection.EventCleared:
		return []graphstore.Query{
			{Statement: "DELETE FROM photobox_edges"},
			{Statement: "DELETE FROM photobox_entities"},
		}, nil
	}

	// EventRestored describes state that came from the store.
	return nil, nil
}
