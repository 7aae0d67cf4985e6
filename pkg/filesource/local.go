package filesource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

var (
	_ Source = (*Local)(nil)
	_ Sizer  = (*Local)(nil)
)

// Local expands patterns against a directory on the local filesystem.
type Local struct {
	// Root is the directory patterns are resolved against. Empty means the
	// working directory.
	Root string
}

// Glob implements [Source.Glob]. Matches are returned relative to Root;
// directories are skipped.
func (l *Local) Glob(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("%w: %q must be relative to the source root", ErrBadPattern, pattern)
	}
	root := l.root()
	matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, m)
		if err != nil {
			return nil, fmt.Errorf("filesource: relativise %q: %w", m, err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	slices.Sort(out)
	return out, nil
}

// Size implements [Sizer.Size].
func (l *Local) Size(_ context.Context, path string) (int64, bool) {
	fi, err := os.Stat(filepath.Join(l.root(), filepath.FromSlash(path)))
	if err != nil || fi.IsDir() {
		return 0, false
	}
	return fi.Size(), true
}

func (l *Local) root() string {
	if l.Root == "" {
		return "."
	}
	return l.Root
}
