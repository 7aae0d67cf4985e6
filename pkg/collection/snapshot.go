package collection

import (
	"context"
	"fmt"

	"github.com/MrWong99/photobox/internal/entity"
	"github.com/MrWong99/photobox/internal/membership"
	"github.com/MrWong99/photobox/internal/registry"
	"github.com/MrWong99/photobox/pkg/types"
)

// Snapshot is a point-in-time copy of a collection. Edges are grouped by
// parent in member order, so replaying them reproduces [Collection.MembersOf].
type Snapshot struct {
	// LastID is the highest id issued so far. Restored collections never
	// issue an id at or below it.
	LastID types.ID `json:"last_id"`

	Entities []types.Entity `json:"entities"`
	Edges    []types.Edge   `json:"edges"`
}

// Snapshot returns a deep copy of the current state.
func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		LastID:   c.reg.Last(),
		Entities: c.store.List(entity.ListOptions{}),
		Edges:    c.graph.Edges(),
	}
}

// Restore replaces the state with snap. Every entity and edge is replayed
// through the registry and the membership graph, so a snapshot that breaks
// an invariant (duplicate key, second parent, cycle, dangling edge) is
// rejected and the current state is kept.
//
// Restore emits a single [EventRestored]; journals that persist state should
// ignore it because snap usually comes from the store itself.
func (c *Collection) Restore(ctx context.Context, snap Snapshot) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "restore")
	defer func() { done(err) }()

	reg := registry.New()
	reg.Advance(c.reg.Last())
	reg.Advance(snap.LastID)
	store := entity.NewStore(reg)
	graph := membership.New(store)

	for _, e := range snap.Entities {
		if err := store.Insert(e); err != nil {
			return fmt.Errorf("collection: restore: %w", err)
		}
		if err := reg.Register(registry.IndexFor(e.Kind), e.Key(), e.ID); err != nil {
			return fmt.Errorf("collection: restore entity %d: %w", e.ID, err)
		}
		reg.Advance(e.ID)
	}
	for _, edge := range snap.Edges {
		if err := graph.AddEdge(edge.Child, edge.Parent); err != nil {
			return fmt.Errorf("collection: restore: %w", err)
		}
	}

	before := c.statsLocked()
	c.reg, c.store, c.graph = reg, store, graph
	after := c.statsLocked()
	c.emit(Event{Type: EventRestored, Stats: &after})

	c.metrics.RecordEntities(ctx, string(types.KindSet), int64(after.Sets-before.Sets))
	c.metrics.RecordEntities(ctx, string(types.KindPix), int64(after.Pix-before.Pix))
	c.metrics.Edges.Add(ctx, int64(after.Edges-before.Edges))
	c.log(ctx).Info("collection restored", "sets", after.Sets, "pix", after.Pix, "edges", after.Edges)
	return nil
}
