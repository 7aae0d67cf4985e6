// Package entity holds the attribute-bearing Set and Pix records of a photo
// collection.
//
// The store knows nothing about unique keys or membership: indexes live in
// internal/registry and IN edges in internal/membership. The collection
// sequences all three so that a delete removes the edges and the index entry
// together with the entity.
//
// All store operations are safe for concurrent use.
package entity

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/photobox/pkg/types"
)

// ErrDuplicateID is returned by Insert when an entity with the same ID already exists.
var ErrDuplicateID = errors.New("entity with that ID already exists")

// Allocator issues fresh entity ids. [*registry.Registry] satisfies it.
type Allocator interface {
	Allocate() types.ID
}

// ListOptions narrows the result set of [Store.List].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// Kind restricts results to entities of this kind.
	// An empty value matches both kinds.
	Kind types.Kind

	// Keywords restricts results to Pix that carry all of the specified
	// keywords. An empty slice matches all entities.
	Keywords []string
}

// Store is a thread-safe, in-memory table of entities keyed by id.
type Store struct {
	mu       sync.RWMutex
	alloc    Allocator
	entities map[types.ID]types.Entity
}

// NewStore returns an empty [Store] that takes ids from alloc.
func NewStore(alloc Allocator) *Store {
	return &Store{
		alloc:    alloc,
		entities: make(map[types.ID]types.Entity),
	}
}

// Create validates attrs, allocates a new id and stores a copy of the entity.
// Reserved attributes are normalised to their canonical types.
func (s *Store) Create(kind types.Kind, attrs types.Attributes) (types.ID, error) {
	if err := Validate(kind, attrs); err != nil {
		return 0, fmt.Errorf("entity: create %s: %w", kind, err)
	}
	norm, err := types.NormalizeAttributes(attrs)
	if err != nil {
		return 0, fmt.Errorf("entity: create %s: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.alloc.Allocate()
	s.entities[id] = types.Entity{ID: id, Kind: kind, Attributes: norm}
	return id, nil
}

// Insert stores e under its own id. It is the restore path: the id was issued
// earlier and the caller is responsible for advancing the allocator past it.
func (s *Store) Insert(e types.Entity) error {
	if e.ID == 0 {
		return fmt.Errorf("entity: insert: %w: zero id", types.ErrInvalidAttribute)
	}
	if err := Validate(e.Kind, e.Attributes); err != nil {
		return fmt.Errorf("entity: insert %d: %w", e.ID, err)
	}
	norm, err := types.NormalizeAttributes(e.Attributes)
	if err != nil {
		return fmt.Errorf("entity: insert %d: %w", e.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[e.ID]; exists {
		return fmt.Errorf("entity: insert %d: %w", e.ID, ErrDuplicateID)
	}
	e.Attributes = norm
	s.entities[e.ID] = e
	return nil
}

// Get returns a copy of the entity with the given id.
func (s *Store) Get(id types.ID) (types.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return types.Entity{}, false
	}
	return e.Clone(), true
}

// Kind reports the kind of a live entity.
func (s *Store) Kind(id types.ID) (types.Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	return e.Kind, ok
}

// SetAttribute stores value under key on entity id. The unique key of an
// entity cannot be changed in place; delete and recreate it instead.
func (s *Store) SetAttribute(id types.ID, key string, value any) error {
	if key == "" {
		return fmt.Errorf("entity: set attribute: %w: empty key", types.ErrInvalidAttribute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("entity: set attribute on %d: %w", id, types.ErrNotFound)
	}
	if key == types.KeyAttribute(e.Kind) {
		return fmt.Errorf("entity: set attribute on %d: %w: %s is the unique key", id, types.ErrInvalidAttribute, key)
	}
	norm, err := types.NormalizeAttributes(types.Attributes{key: value})
	if err != nil {
		return fmt.Errorf("entity: set attribute on %d: %w", id, err)
	}

	attrs := e.Attributes.Clone()
	attrs[key] = norm[key]
	e.Attributes = attrs
	s.entities[id] = e
	return nil
}

// Delete removes the entity with the given id.
func (s *Store) Delete(id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return fmt.Errorf("entity: delete %d: %w", id, types.ErrNotFound)
	}
	delete(s.entities, id)
	return nil
}

// List returns copies of all entities matching opts, sorted by id.
func (s *Store) List(opts ListOptions) []types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if !matchesOpts(e, opts) {
			continue
		}
		result = append(result, e.Clone())
	}
	slices.SortFunc(result, func(a, b types.Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return result
}

// Len returns the number of live entities of kind, or of both kinds when
// kind is empty.
func (s *Store) Len(kind types.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kind == "" {
		return len(s.entities)
	}
	n := 0
	for _, e := range s.entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops every entity. Ids already issued by the allocator stay used.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[types.ID]types.Entity)
}

// matchesOpts reports whether e satisfies all conditions in opts.
func matchesOpts(e types.Entity, opts ListOptions) bool {
	if opts.Kind != "" && e.Kind != opts.Kind {
		return false
	}
	if len(opts.Keywords) == 0 {
		return true
	}
	have := e.Attributes.Keywords()
	for _, want := range opts.Keywords {
		if !slices.Contains(have, want) {
			return false
		}
	}
	return true
}
