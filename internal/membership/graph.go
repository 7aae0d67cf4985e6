// Package membership maintains the directed IN edges between entities.
//
// Every edge points from a child (Set or Pix) to its parent Set. Each child
// has at most one parent, and the Set-to-Set edges form a forest. The graph
// enforces both invariants on every [Graph.AddEdge].
//
// A Graph is not safe for concurrent use; the collection serialises access.
package membership

import (
	"fmt"
	"slices"

	"github.com/MrWong99/photobox/pkg/types"
)

// Resolver reports the kind of a live entity. [*entity.Store] satisfies it.
type Resolver interface {
	Kind(id types.ID) (types.Kind, bool)
}

// Graph is the membership edge set.
type Graph struct {
	resolver Resolver
	parent   map[types.ID]types.ID
	children map[types.ID][]types.ID
}

// New returns an empty Graph that checks endpoints against resolver.
func New(resolver Resolver) *Graph {
	return &Graph{
		resolver: resolver,
		parent:   make(map[types.ID]types.ID),
		children: make(map[types.ID][]types.ID),
	}
}

// AddEdge creates the edge child -IN-> parent.
//
// Checks run in this order and the first failure wins:
//  1. both endpoints exist ([types.ErrDanglingEndpoint]);
//  2. parent is a Set ([types.ErrKindMismatch]);
//  3. a Pix child has no parent yet ([types.ErrAlreadyMember]);
//  4. a Set child would not close a cycle ([types.ErrCycle]) and has no
//     parent yet ([types.ErrAlreadyMember]).
func (g *Graph) AddEdge(child, parent types.ID) error {
	childKind, ok := g.resolver.Kind(child)
	if !ok {
		return fmt.Errorf("membership: child %d: %w", child, types.ErrDanglingEndpoint)
	}
	parentKind, ok := g.resolver.Kind(parent)
	if !ok {
		return fmt.Errorf("membership: parent %d: %w", parent, types.ErrDanglingEndpoint)
	}
	if parentKind != types.KindSet {
		return fmt.Errorf("membership: parent %d is a %s: %w", parent, parentKind, types.ErrKindMismatch)
	}

	if childKind == types.KindSet && g.reaches(parent, child) {
		return fmt.Errorf("membership: %d -IN-> %d: %w", child, parent, types.ErrCycle)
	}
	if existing, has := g.parent[child]; has {
		return fmt.Errorf("membership: %d already in %d: %w", child, existing, types.ErrAlreadyMember)
	}

	g.parent[child] = parent
	g.children[parent] = append(g.children[parent], child)
	return nil
}

// reaches reports whether target is from or one of from's ancestors.
func (g *Graph) reaches(from, target types.ID) bool {
	if from == target {
		return true
	}
	for _, a := range g.Ancestors(from) {
		if a == target {
			return true
		}
	}
	return false
}

// RemoveEdge removes the outgoing edge of child, if any, and returns the
// parent it pointed to.
func (g *Graph) RemoveEdge(child types.ID) (types.ID, bool) {
	parent, ok := g.parent[child]
	if !ok {
		return 0, false
	}
	delete(g.parent, child)

	siblings := g.children[parent]
	if i := slices.Index(siblings, child); i >= 0 {
		siblings = slices.Delete(siblings, i, i+1)
	}
	if len(siblings) == 0 {
		delete(g.children, parent)
	} else {
		g.children[parent] = siblings
	}
	return parent, true
}

// EdgesOf returns the parents of child: zero or one element.
func (g *Graph) EdgesOf(child types.ID) []types.ID {
	if p, ok := g.parent[child]; ok {
		return []types.ID{p}
	}
	return nil
}

// ParentOf returns the parent of child.
func (g *Graph) ParentOf(child types.ID) (types.ID, bool) {
	p, ok := g.parent[child]
	return p, ok
}

// ChildrenOf returns the direct members of parent in insertion order.
func (g *Graph) ChildrenOf(parent types.ID) []types.ID {
	return slices.Clone(g.children[parent])
}

// RemoveAllTouching removes the outgoing edge of id and every edge whose
// parent is id. Former children become parent-less.
func (g *Graph) RemoveAllTouching(id types.ID) []types.Edge {
	var removed []types.Edge
	if p, ok := g.RemoveEdge(id); ok {
		removed = append(removed, types.Edge{Child: id, Parent: p})
	}
	for _, c := range g.children[id] {
		delete(g.parent, c)
		removed = append(removed, types.Edge{Child: c, Parent: id})
	}
	delete(g.children, id)
	return removed
}

// Ancestors returns the chain of parents of id, nearest first, ending at a
// root Set.
func (g *Graph) Ancestors(id types.ID) []types.ID {
	var out []types.ID
	seen := map[types.ID]bool{id: true}
	for {
		p, ok := g.parent[id]
		if !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		id = p
	}
}

// Edges returns every edge grouped by parent (parents ascending by id) and,
// within a parent, in insertion order.
func (g *Graph) Edges() []types.Edge {
	parents := make([]types.ID, 0, len(g.children))
	for p := range g.children {
		parents = append(parents, p)
	}
	slices.Sort(parents)

	out := make([]types.Edge, 0, len(g.parent))
	for _, p := range parents {
		for _, c := range g.children[p] {
			out = append(out, types.Edge{Child: c, Parent: p})
		}
	}
	return out
}

// Len returns the number of edges.
func (g *Graph) Len() int { return len(g.parent) }

// Reset drops every edge.
func (g *Graph) Reset() {
	g.parent = make(map[types.ID]types.ID)
	g.children = make(map[types.ID][]types.ID)
}
