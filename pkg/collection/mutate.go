package collection

import (
	"context"
	"fmt"

	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/internal/registry"
	"github.com/MrWong99/photobox/pkg/types"
)

// NewRootSet creates a Set without a parent.
func (c *Collection) NewRootSet(ctx context.Context, name string) (id types.ID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "new_root_set")
	defer func() { done(err) }()

	id, err = c.createLocked(types.KindSet, types.Attributes{types.AttrName: name})
	if err != nil {
		return 0, fmt.Errorf("collection: new root set %q: %w", name, err)
	}
	observe.Annotate(ctx, observe.KindAttr(types.KindSet), observe.EntityAttr(id))
	c.metrics.RecordEntities(ctx, string(types.KindSet), 1)
	c.log(ctx).Debug("set created", "id", id, "name", name)
	return id, nil
}

// NewChildSet creates a Set as a member of parent. When the edge cannot be
// created (stale parent, parent is a Pix) nothing is left behind.
func (c *Collection) NewChildSet(ctx context.Context, name string, parent types.ID) (id types.ID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "new_child_set")
	defer func() { done(err) }()

	attrs := types.Attributes{types.AttrName: name}
	id, err = c.store.Create(types.KindSet, attrs)
	if err != nil {
		return 0, fmt.Errorf("collection: new child set %q: %w", name, err)
	}
	if err := c.reg.Register(registry.IndexSetName, name, id); err != nil {
		_ = c.store.Delete(id)
		return 0, fmt.Errorf("collection: new child set %q: %w", name, err)
	}
	if err := c.graph.AddEdge(id, parent); err != nil {
		c.reg.Unregister(registry.IndexSetName, name)
		_ = c.store.Delete(id)
		return 0, fmt.Errorf("collection: new child set %q in %d: %w", name, parent, err)
	}

	e, _ := c.store.Get(id)
	c.emit(Event{Type: EventCreated, Entity: &e})
	c.emitLinked(id, parent)
	observe.Annotate(ctx, observe.KindAttr(types.KindSet), observe.EntityAttr(id), observe.ParentAttr(parent))
	c.metrics.RecordEntities(ctx, string(types.KindSet), 1)
	c.metrics.Edges.Add(ctx, 1)
	c.log(ctx).Debug("set created", "id", id, "name", name, "parent", parent)
	return id, nil
}

// IngestPix creates a Pix for filename. A filename that is already ingested
// is rejected with a [*types.DuplicateKeyError] naming the existing Pix.
func (c *Collection) IngestPix(ctx context.Context, filename string) (types.ID, error) {
	return c.IngestPixWith(ctx, filename, nil)
}

// IngestPixWith is [Collection.IngestPix] with extra attributes such as
// width, height, color or keywords.
func (c *Collection) IngestPixWith(ctx context.Context, filename string, attrs types.Attributes) (id types.ID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "ingest_pix")
	defer func() { done(err) }()

	all := attrs.Clone()
	all[types.AttrFilename] = filename
	id, err = c.createLocked(types.KindPix, all)
	if err != nil {
		return 0, fmt.Errorf("collection: ingest %q: %w", filename, err)
	}
	observe.Annotate(ctx, observe.KindAttr(types.KindPix), observe.EntityAttr(id))
	c.metrics.RecordEntities(ctx, string(types.KindPix), 1)
	c.log(ctx).Debug("pix ingested", "id", id, "filename", filename)
	return id, nil
}

// createLocked creates an entity and registers its key, rolling the entity
// back when the key is taken. Callers hold c.mu.
func (c *Collection) createLocked(kind types.Kind, attrs types.Attributes) (types.ID, error) {
	id, err := c.store.Create(kind, attrs)
	if err != nil {
		return 0, err
	}
	e, _ := c.store.Get(id)
	if err := c.reg.Register(registry.IndexFor(kind), e.Key(), id); err != nil {
		_ = c.store.Delete(id)
		return 0, err
	}
	c.emit(Event{Type: EventCreated, Entity: &e})
	return id, nil
}

// Attach makes child a member of set. child may be a Pix or a Set.
func (c *Collection) Attach(ctx context.Context, child, set types.ID) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "attach")
	defer func() { done(err) }()
	observe.Annotate(ctx, observe.EntityAttr(child), observe.ParentAttr(set))

	if err := c.graph.AddEdge(child, set); err != nil {
		return fmt.Errorf("collection: attach %d to %d: %w", child, set, err)
	}
	c.emitLinked(child, set)
	c.metrics.Edges.Add(ctx, 1)
	c.log(ctx).Debug("attached", "child", child, "set", set)
	return nil
}

// Detach removes id from its Set. It reports whether an edge was removed;
// detaching an entity without a parent, or a stale id, is a no-op.
func (c *Collection) Detach(ctx context.Context, id types.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "detach")
	defer done(nil)
	observe.Annotate(ctx, observe.EntityAttr(id))

	parent, ok := c.graph.RemoveEdge(id)
	if !ok {
		return false
	}
	c.emitUnlinked(id, parent)
	c.metrics.Edges.Add(ctx, -1)
	c.log(ctx).Debug("detached", "child", id, "set", parent)
	return true
}

// Reparent moves child into newSet: its current edge, if any, is removed and
// a new one created.
//
// If the new edge is rejected, the outcome depends on
// [WithRestoreOnFailedReparent]. By default the child stays detached and a
// warning is logged; with restore enabled the old edge is recreated at the end
// of the old Set's members. Either way the attach error is returned.
func (c *Collection) Reparent(ctx context.Context, child, newSet types.ID) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "reparent")
	defer func() { done(err) }()
	observe.Annotate(ctx, observe.EntityAttr(child), observe.ParentAttr(newSet))

	oldSet, had := c.graph.RemoveEdge(child)
	if had {
		c.emitUnlinked(child, oldSet)
		c.metrics.Edges.Add(ctx, -1)
	}

	if err := c.graph.AddEdge(child, newSet); err != nil {
		err = fmt.Errorf("collection: reparent %d to %d: %w", child, newSet, err)
		if !had {
			return err
		}
		if !c.restoreOnFailedReparent {
			c.log(ctx).Warn("reparent failed after detach, child left without a set",
				"child", child, "old_set", oldSet, "new_set", newSet, "err", err)
			return err
		}
		if rerr := c.graph.AddEdge(child, oldSet); rerr != nil {
			// Unreachable while the lock is held: nothing changed since the removal.
			c.log(ctx).Error("restoring edge after failed reparent", "child", child, "set", oldSet, "err", rerr)
			return err
		}
		c.emitLinked(child, oldSet)
		c.metrics.Edges.Add(ctx, 1)
		return err
	}

	c.emitLinked(child, newSet)
	c.metrics.Edges.Add(ctx, 1)
	c.log(ctx).Debug("reparented", "child", child, "from", oldSet, "to", newSet)
	return nil
}

// SetAttribute sets key to value on entity id. The unique key (name or
// filename) cannot be changed this way.
func (c *Collection) SetAttribute(ctx context.Context, id types.ID, key string, value any) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "set_attribute")
	defer func() { done(err) }()
	observe.Annotate(ctx, observe.EntityAttr(id), observe.AttrAttributeKey.String(key))

	if err := c.store.SetAttribute(id, key, value); err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	e, _ := c.store.Get(id)
	c.emit(Event{Type: EventAttributeSet, Entity: &e, Key: key, Value: e.Attributes[key]})
	c.log(ctx).Debug("attribute set", "id", id, "key", key)
	return nil
}

// Delete removes entity id together with every edge touching it and its
// index entry. Members of a deleted Set become parent-less; they are not
// deleted.
func (c *Collection) Delete(ctx context.Context, id types.ID) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "delete")
	defer func() { done(err) }()
	observe.Annotate(ctx, observe.EntityAttr(id))

	e, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("collection: delete %d: %w", id, types.ErrNotFound)
	}

	removed := c.graph.RemoveAllTouching(id)
	for _, edge := range removed {
		c.emitUnlinked(edge.Child, edge.Parent)
	}
	c.reg.Unregister(registry.IndexFor(e.Kind), e.Key())
	if err := c.store.Delete(id); err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	c.emit(Event{Type: EventDeleted, Entity: &e})

	c.metrics.Edges.Add(ctx, -int64(len(removed)))
	c.metrics.RecordEntities(ctx, string(e.Kind), -1)
	c.log(ctx).Debug("deleted", "id", id, "kind", e.Kind, "key", e.Key(), "edges", len(removed))
	return nil
}

// Clear drops every entity and edge. Ids issued before the call are never
// issued again.
func (c *Collection) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "clear")
	defer done(nil)

	before := c.statsLocked()
	c.reg.Reset()
	c.store.Reset()
	c.graph.Reset()
	c.emit(Event{Type: EventCleared, Stats: &before})

	c.metrics.RecordEntities(ctx, string(types.KindSet), -int64(before.Sets))
	c.metrics.RecordEntities(ctx, string(types.KindPix), -int64(before.Pix))
	c.metrics.Edges.Add(ctx, -int64(before.Edges))
	c.log(ctx).Info("collection cleared", "sets", before.Sets, "pix", before.Pix, "edges", before.Edges)
}
