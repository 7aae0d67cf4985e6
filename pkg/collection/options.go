package collection

import (
	"log/slog"

	"github.com/MrWong99/photobox/internal/observe"
)

// Option configures a [Collection].
type Option func(*Collection)

// WithMetrics records operation metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Collection) { c.metrics = m }
}

// WithLogger sets the logger. By default each operation logs through
// [observe.Logger] so trace ids are attached.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collection) { c.logger = l }
}

// WithJournal appends journals that receive every event.
func WithJournal(j ...Journal) Option {
	return func(c *Collection) { c.journals = append(c.journals, j...) }
}

// WithRestoreOnFailedReparent controls what [Collection.Reparent] does when
// attaching to the new Set fails after the old edge was removed. By default
// the child is left without a parent; with restore=true the old edge is put
// back.
func WithRestoreOnFailedReparent(restore bool) Option {
	return func(c *Collection) { c.restoreOnFailedReparent = restore }
}
