// Package filesource defines the filename source collaborator used for bulk
// ingest: something that expands a shell-style pattern into concrete file
// paths.
//
// Two implementations are provided: [Local] for a directory on disk and the
// s3 subpackage for an S3-compatible bucket. Both return paths relative to
// their root, with forward slashes, sorted lexically.
package filesource

import (
	"context"
	"errors"
)

// ErrBadPattern is returned when a pattern is malformed.
var ErrBadPattern = errors.New("filesource: bad pattern")

// Source expands filename patterns.
//
// Implementations must be safe for concurrent use; the collection expands
// several patterns in parallel.
type Source interface {
	// Glob returns the paths matching pattern in lexical order. A pattern
	// that matches nothing yields an empty slice and no error.
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// Sizer is implemented by sources that can report file sizes cheaply.
// The collection records the size as the Pix filesize attribute.
type Sizer interface {
	// Size returns the size in bytes of path as seen by the last Glob.
	Size(ctx context.Context, path string) (int64, bool)
}
