// Package types defines the shared vocabulary used across all photobox packages.
//
// Packages keep their own domain types. Only the structures shared by the
// registry, entity store, membership graph, collection API and persistence
// adapters live here, which keeps the import graph acyclic.
package types

import (
	"maps"
	"slices"
	"strconv"
)

// ID identifies a live entity. IDs are issued by a monotonic counter and are
// never reused within a process, not even after the entity is deleted.
// The zero value is never issued and is used to mean "no entity".
type ID uint64

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Kind is the closed set of entity kinds. No third kind is ever added at runtime.
type Kind string

const (
	// KindSet is a named container. Sets may nest under at most one parent Set.
	KindSet Kind = "set"

	// KindPix is a leaf representing one ingested photo, keyed by filename.
	KindPix Kind = "pix"
)

// IsValid reports whether k is a recognised entity kind.
func (k Kind) IsValid() bool {
	return k == KindSet || k == KindPix
}

// RelIn is the only relationship type: a directed membership edge from a child
// (Set or Pix) to its parent Set.
const RelIn = "IN"

// Attribute keys. The first two are the unique keys of their kind; the Pix
// attributes below them are reserved and optional.
const (
	AttrName     = "name"
	AttrFilename = "filename"

	AttrFilesize = "filesize" // int64, bytes
	AttrColor    = "color"    // bool
	AttrWidth    = "width"    // int, pixels
	AttrHeight   = "height"   // int, pixels
	AttrKeywords = "keywords" // []string
)

// KeyAttribute returns the attribute holding the unique key for kind, or ""
// for an unknown kind.
func KeyAttribute(kind Kind) string {
	switch kind {
	case KindSet:
		return AttrName
	case KindPix:
		return AttrFilename
	}
	return ""
}

// Attributes maps attribute names to values.
type Attributes map[string]any

// Clone returns a copy of a. Slice values stored under [AttrKeywords] are
// copied too so the clone never aliases the original.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	out := maps.Clone(a)
	if kw, ok := a[AttrKeywords].([]string); ok {
		out[AttrKeywords] = slices.Clone(kw)
	}
	return out
}

// String returns the string value stored under key, or "" when the key is
// absent or not a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Keywords returns the keyword tags of a Pix, or nil.
func (a Attributes) Keywords() []string {
	kw, _ := a[AttrKeywords].([]string)
	return kw
}

// Entity is a Set or a Pix together with its attributes.
type Entity struct {
	ID         ID         `json:"id"`
	Kind       Kind       `json:"kind"`
	Attributes Attributes `json:"attributes"`
}

// Key returns the entity's unique key: the name of a Set or the filename of a Pix.
func (e Entity) Key() string {
	return e.Attributes.String(KeyAttribute(e.Kind))
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	e.Attributes = e.Attributes.Clone()
	return e
}

// Edge is a directed IN edge from Child to Parent.
type Edge struct {
	Child  ID `json:"child"`
	Parent ID `json:"parent"`
}
