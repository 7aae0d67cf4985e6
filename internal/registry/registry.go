// Package registry allocates entity identifiers and maintains the unique
// name→Set and filename→Pix lookup tables.
//
// Lookups are exact-match only. Callers that need wildcard selection (e.g.
// "all .jpg files") resolve the pattern against a file source first and then
// look up the concrete keys.
//
// A Registry is not safe for concurrent use on its own; the collection holds
// a single lock around every operation that touches it.
package registry

import (
	"slices"

	"github.com/MrWong99/photobox/pkg/types"
)

// Index names one of the two independent unique indexes.
type Index string

const (
	// IndexSetName maps Set names to Set ids.
	IndexSetName Index = "set_name"

	// IndexPixFilename maps Pix filenames to Pix ids.
	IndexPixFilename Index = "pix_filename"
)

// IndexFor returns the unique index used for kind.
func IndexFor(kind types.Kind) Index {
	if kind == types.KindSet {
		return IndexSetName
	}
	return IndexPixFilename
}

// Registry is the identity allocator plus the two unique indexes.
// The zero value is not usable; call [New].
type Registry struct {
	last    types.ID
	indexes map[Index]map[string]types.ID
}

// New returns an empty Registry whose first allocated id is 1.
func New() *Registry {
	return &Registry{
		indexes: map[Index]map[string]types.ID{
			IndexSetName:     {},
			IndexPixFilename: {},
		},
	}
}

// Allocate returns a fresh id strictly greater than every id previously
// issued by r. Ids are never reused, not even across [Registry.Reset].
func (r *Registry) Allocate() types.ID {
	r.last++
	return r.last
}

// Advance makes sure every future id is greater than floor. It is used when
// state is restored from a backing store.
func (r *Registry) Advance(floor types.ID) {
	if floor > r.last {
		r.last = floor
	}
}

// Last returns the most recently issued id (0 when none).
func (r *Registry) Last() types.ID { return r.last }

// Register maps key to id in idx. It fails with a [*types.DuplicateKeyError]
// when key already maps to a different id; registering the same pair twice
// is a no-op.
func (r *Registry) Register(idx Index, key string, id types.ID) error {
	m := r.index(idx)
	if existing, ok := m[key]; ok && existing != id {
		return &types.DuplicateKeyError{Index: string(idx), Key: key, Existing: existing}
	}
	m[key] = id
	return nil
}

// Unregister removes key from idx. Removing an absent key is not an error.
func (r *Registry) Unregister(idx Index, key string) {
	delete(r.index(idx), key)
}

// Lookup returns the id registered under key in idx.
func (r *Registry) Lookup(idx Index, key string) (types.ID, bool) {
	id, ok := r.index(idx)[key]
	return id, ok
}

// Keys returns all keys in idx, sorted.
func (r *Registry) Keys(idx Index) []string {
	m := r.index(idx)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of keys in idx.
func (r *Registry) Len(idx Index) int {
	return len(r.index(idx))
}

// Reset drops every index entry. The id counter keeps its value.
func (r *Registry) Reset() {
	for idx := range r.indexes {
		r.indexes[idx] = map[string]types.ID{}
	}
}

func (r *Registry) index(idx Index) map[string]types.ID {
	m, ok := r.indexes[idx]
	if !ok {
		m = map[string]types.ID{}
		r.indexes[idx] = m
	}
	return m
}
