// Package collection is the public API of photobox: a hierarchy of named
// Sets containing photos (Pix), connected by IN membership edges.
//
// A [Collection] owns one identity registry, one entity store and one
// membership graph and guards all three with a single mutex, so every
// operation is atomic with respect to every other. The model invariants hold
// after every call, successful or not:
//
//   - every Set name and every Pix filename is unique among live entities;
//   - every IN edge connects two live entities and points at a Set;
//   - a Pix belongs to at most one Set;
//   - a Set has at most one parent Set and the Set hierarchy is a forest.
//
// Mutations take a context for tracing and log correlation. They never
// block on I/O while holding the lock; [Collection.IngestFrom] talks to its
// file source before acquiring it.
//
// Changes are published as ordered [Event]s to the configured [Journal]s,
// which is how the persistence mirror and the live change feed follow along.
package collection

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/photobox/internal/entity"
	"github.com/MrWong99/photobox/internal/membership"
	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/internal/registry"
	"github.com/MrWong99/photobox/pkg/types"
)

// Collection is the explicit store context. The zero value is not usable;
// call [New].
type Collection struct {
	mu    sync.Mutex
	reg   *registry.Registry
	store *entity.Store
	graph *membership.Graph
	seq   uint64

	journals                []Journal
	metrics                 *observe.Metrics
	logger                  *slog.Logger
	restoreOnFailedReparent bool
}

// Stats summarises the size of a collection.
type Stats struct {
	Sets  int `json:"sets"`
	Pix   int `json:"pix"`
	Edges int `json:"edges"`
}

// FindOptions narrows the result of [Collection.Find]. All non-zero fields
// are applied as AND conditions.
type FindOptions struct {
	// Kind restricts results to one entity kind.
	Kind types.Kind

	// Keywords restricts results to Pix carrying every listed keyword.
	Keywords []string
}

// New returns an empty Collection.
func New(opts ...Option) *Collection {
	c := &Collection{}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.reset(registry.New())
	return c
}

// reset installs fresh state around reg. Callers hold c.mu.
func (c *Collection) reset(reg *registry.Registry) {
	c.reg = reg
	c.store = entity.NewStore(reg)
	c.graph = membership.New(c.store)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// ResolveSet returns the id of the Set called name.
func (c *Collection) ResolveSet(name string) (types.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.Lookup(registry.IndexSetName, name)
}

// ResolvePix returns the id of the Pix with the given filename.
func (c *Collection) ResolvePix(filename string) (types.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.Lookup(registry.IndexPixFilename, filename)
}

// Get returns a copy of the entity with the given id.
func (c *Collection) Get(id types.ID) (types.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(id)
}

// MembersOf returns the direct members of set in the order they joined.
func (c *Collection) MembersOf(set types.ID) []types.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.ChildrenOf(set)
}

// ParentOf returns the Set that id is a member of.
func (c *Collection) ParentOf(id types.ID) (types.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.ParentOf(id)
}

// Roots returns every Set without a parent, ascending by id.
func (c *Collection) Roots() []types.ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var roots []types.ID
	for _, e := range c.store.List(entity.ListOptions{Kind: types.KindSet}) {
		if _, ok := c.graph.ParentOf(e.ID); !ok {
			roots = append(roots, e.ID)
		}
	}
	return roots
}

// Path returns the keys from the root Set down to id, e.g.
// ["Families", "Tyson", "a.jpg"]. It returns nil for a stale id.
func (c *Collection) Path(id types.ID) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.store.Get(id)
	if !ok {
		return nil
	}
	path := []string{e.Key()}
	for _, a := range c.graph.Ancestors(id) {
		if ae, ok := c.store.Get(a); ok {
			path = append(path, ae.Key())
		}
	}
	slices.Reverse(path)
	return path
}

// Names returns the keys of all live entities of kind, sorted.
func (c *Collection) Names(kind types.Kind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.Keys(registry.IndexFor(kind))
}

// Find returns copies of the entities matching opts, ascending by id.
func (c *Collection) Find(opts FindOptions) []types.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.List(entity.ListOptions{Kind: opts.Kind, Keywords: opts.Keywords})
}

// Stats returns entity and edge counts.
func (c *Collection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Collection) statsLocked() Stats {
	return Stats{
		Sets:  c.store.Len(types.KindSet),
		Pix:   c.store.Len(types.KindPix),
		Edges: c.graph.Len(),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Instrumentation and journal helpers
// ─────────────────────────────────────────────────────────────────────────────

// begin starts the span for op. The returned function ends it and records
// metrics; pass it the operation's final error.
func (c *Collection) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "collection."+op)
	return ctx, func(err error) {
		c.metrics.RecordOperation(ctx, op, time.Since(start), ErrorKind(err))
		observe.EndSpan(span, err)
		if err != nil {
			c.log(ctx).Debug("operation rejected", "op", op, "err", err)
		}
	}
}

func (c *Collection) log(ctx context.Context) *slog.Logger {
	if c.logger != nil {
		return observe.WithTrace(ctx, c.logger)
	}
	return observe.Logger(ctx)
}

// emit stamps e and hands it to every journal. Callers hold c.mu.
func (c *Collection) emit(e Event) {
	c.seq++
	e.Seq = c.seq
	e.Time = time.Now().UTC()
	for _, j := range c.journals {
		j.Record(e)
	}
}

func (c *Collection) emitLinked(child, parent types.ID) {
	members := c.graph.ChildrenOf(parent)
	c.emit(Event{
		Type:     EventLinked,
		Edge:     &types.Edge{Child: child, Parent: parent},
		Position: slices.Index(members, child),
	})
}

func (c *Collection) emitUnlinked(child, parent types.ID) {
	c.emit(Event{Type: EventUnlinked, Edge: &types.Edge{Child: child, Parent: parent}})
}

// ErrorKind returns a short label for the model error err matches, used as a
// metric attribute. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, types.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrDanglingEndpoint):
		return "dangling_endpoint"
	case errors.Is(err, types.ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, types.ErrCycle):
		return "cycle"
	case errors.Is(err, types.ErrKindMismatch):
		return "kind_mismatch"
	case errors.Is(err, types.ErrInvalidAttribute):
		return "invalid_attribute"
	case errors.Is(err, types.ErrCollaborator):
		return "collaborator"
	}
	return "other"
}
