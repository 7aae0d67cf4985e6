package manifest

import (
	"context"
	"fmt"

	"github.com/MrWong99/photobox/internal/suggest"
	"github.com/MrWong99/photobox/pkg/collection"
	"github.com/MrWong99/photobox/pkg/types"
)

// Target is the part of [collection.Collection] a manifest is applied to.
type Target interface {
	ResolveSet(name string) (types.ID, bool)
	ResolvePix(filename string) (types.ID, bool)
	ParentOf(id types.ID) (types.ID, bool)
	Names(kind types.Kind) []string
	NewRootSet(ctx context.Context, name string) (types.ID, error)
	NewChildSet(ctx context.Context, name string, parent types.ID) (types.ID, error)
	IngestPixWith(ctx context.Context, filename string, attrs types.Attributes) (types.ID, error)
	Attach(ctx context.Context, child, set types.ID) error
	Reparent(ctx context.Context, child, newSet types.ID) error
}

var _ Target = (*collection.Collection)(nil)

// Report counts what Apply did.
type Report struct {
	SetsCreated int
	SetsReused  int
	PixCreated  int
	PixReused   int
	Linked      int

	// Kept counts declared members left in the Set they already belong to,
	// typically because an earlier move placed them there.
	Kept  int
	Moved int
}

// Apply creates the Sets and Pix of m in t, links members and performs the
// moves, in that order. Existing Sets are reused when their parent matches
// the manifest; a Set of the same name elsewhere in the tree is an error.
// Existing Pix are reused with their attributes untouched.
//
// Apply stops at the first error and returns the report so far.
func Apply(ctx context.Context, t Target, m *Manifest) (Report, error) {
	var r Report
	if m == nil {
		return r, fmt.Errorf("manifest: manifest must not be nil")
	}
	a := applier{t: t, report: &r, matcher: suggest.New()}

	declared := make(map[string]PixSpec, len(m.Pix))
	for _, p := range m.Pix {
		declared[p.Filename] = p
		if _, err := a.pix(ctx, p); err != nil {
			return r, err
		}
	}
	if err := a.sets(ctx, m.Sets, 0, declared); err != nil {
		return r, err
	}
	for i, mv := range m.Moves {
		if err := a.move(ctx, mv); err != nil {
			return r, fmt.Errorf("manifest: moves[%d]: %w", i, err)
		}
	}
	return r, nil
}

type applier struct {
	t       Target
	report  *Report
	matcher *suggest.Matcher
}

func (a *applier) pix(ctx context.Context, p PixSpec) (types.ID, error) {
	if id, ok := a.t.ResolvePix(p.Filename); ok {
		a.report.PixReused++
		return id, nil
	}
	id, err := a.t.IngestPixWith(ctx, p.Filename, p.Attrs())
	if err != nil {
		return 0, fmt.Errorf("manifest: pix %q: %w", p.Filename, err)
	}
	a.report.PixCreated++
	return id, nil
}

// sets creates specs under parent (0 for roots) depth-first.
func (a *applier) sets(ctx context.Context, specs []SetSpec, parent types.ID, declared map[string]PixSpec) error {
	for _, s := range specs {
		id, err := a.set(ctx, s.Name, parent)
		if err != nil {
			return err
		}
		for _, f := range s.Pix {
			pid, ok := a.t.ResolvePix(f)
			if !ok {
				spec, declaredHere := declared[f]
				if !declaredHere {
					spec = PixSpec{Filename: f}
				}
				if pid, err = a.pix(ctx, spec); err != nil {
					return err
				}
			}
			if _, has := a.t.ParentOf(pid); has {
				a.report.Kept++
				continue
			}
			if err := a.t.Attach(ctx, pid, id); err != nil {
				return fmt.Errorf("manifest: set %q: attach %q: %w", s.Name, f, err)
			}
			a.report.Linked++
		}
		if err := a.sets(ctx, s.Sets, id, declared); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) set(ctx context.Context, name string, parent types.ID) (types.ID, error) {
	if id, ok := a.t.ResolveSet(name); ok {
		got, has := a.t.ParentOf(id)
		switch {
		case parent == 0 && !has, parent != 0 && has && got == parent:
			a.report.SetsReused++
			return id, nil
		case parent != 0 && !has:
			// A former root declared as a child: adopt it.
			if err := a.t.Attach(ctx, id, parent); err != nil {
				return 0, fmt.Errorf("manifest: set %q: %w", name, err)
			}
			a.report.SetsReused++
			a.report.Linked++
			return id, nil
		}
		return 0, fmt.Errorf("manifest: set %q: %w: already exists under another parent", name, types.ErrDuplicateKey)
	}

	var (
		id  types.ID
		err error
	)
	if parent == 0 {
		id, err = a.t.NewRootSet(ctx, name)
	} else {
		id, err = a.t.NewChildSet(ctx, name, parent)
	}
	if err != nil {
		return 0, fmt.Errorf("manifest: set %q: %w", name, err)
	}
	a.report.SetsCreated++
	return id, nil
}

func (a *applier) move(ctx context.Context, mv Move) error {
	to, err := a.resolve(types.KindSet, mv.To)
	if err != nil {
		return err
	}
	var child types.ID
	if mv.Pix != "" {
		child, err = a.resolve(types.KindPix, mv.Pix)
	} else {
		child, err = a.resolve(types.KindSet, mv.Set)
	}
	if err != nil {
		return err
	}
	if cur, ok := a.t.ParentOf(child); ok && cur == to {
		return nil
	}
	if err := a.t.Reparent(ctx, child, to); err != nil {
		return err
	}
	a.report.Moved++
	return nil
}

// resolve looks up key, attaching a suggestion to the not-found error.
func (a *applier) resolve(kind types.Kind, key string) (types.ID, error) {
	var (
		id types.ID
		ok bool
	)
	if kind == types.KindSet {
		id, ok = a.t.ResolveSet(key)
	} else {
		id, ok = a.t.ResolvePix(key)
	}
	if ok {
		return id, nil
	}
	if hint := a.matcher.DidYouMean(key, a.t.Names(kind)); hint != "" {
		return 0, fmt.Errorf("%w: %s %q (%s)", types.ErrNotFound, kind, key, hint)
	}
	return 0, fmt.Errorf("%w: %s %q", types.ErrNotFound, kind, key)
}
