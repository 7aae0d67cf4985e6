package collection

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/photobox/internal/registry"
	"github.com/MrWong99/photobox/pkg/filesource"
	"github.com/MrWong99/photobox/pkg/types"
)

// maxGlobConcurrency bounds the number of patterns expanded at once.
const maxGlobConcurrency = 8

// IngestReport summarises a bulk ingest.
type IngestReport struct {
	// Matched is the number of paths returned by the source over all patterns.
	Matched int `json:"matched"`

	// Ingested lists the new Pix in ingest order.
	Ingested []types.ID `json:"ingested"`

	// Duplicates lists filenames that were already present and skipped.
	Duplicates []string `json:"duplicates,omitempty"`
}

// globResult is the expansion of one pattern.
type globResult struct {
	paths []string
	sizes map[string]int64
}

// IngestFrom expands patterns against src and creates a Pix for every
// matching filename that is not ingested yet.
//
// Patterns are expanded concurrently without holding the collection lock.
// Ingest then happens in a single critical section, in pattern order and,
// within a pattern, in the order the source returned the paths. Filenames
// already present (including ones matched by an earlier pattern) are counted
// as duplicates, not errors. If the source fails for any pattern nothing is
// ingested and the failure is returned as a [*types.CollaboratorError].
func (c *Collection) IngestFrom(ctx context.Context, src filesource.Source, patterns ...string) (report IngestReport, err error) {
	results := make([]globResult, len(patterns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxGlobConcurrency)
	sizer, _ := src.(filesource.Sizer)
	for i, pattern := range patterns {
		g.Go(func() error {
			paths, err := src.Glob(gctx, pattern)
			if err != nil {
				return types.Collaborator("glob "+pattern, err)
			}
			res := globResult{paths: paths}
			if sizer != nil {
				res.sizes = make(map[string]int64, len(paths))
				for _, p := range paths {
					if n, ok := sizer.Size(gctx, p); ok {
						res.sizes[p] = n
					}
				}
			}
			results[i] = res
			return nil
		})
	}
	globErr := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx, "ingest_from")
	defer func() { done(err) }()

	if globErr != nil {
		return IngestReport{}, fmt.Errorf("collection: ingest: %w", globErr)
	}

	for _, res := range results {
		for _, p := range res.paths {
			report.Matched++
			if _, exists := c.reg.Lookup(registry.IndexPixFilename, p); exists {
				report.Duplicates = append(report.Duplicates, p)
				continue
			}
			attrs := types.Attributes{types.AttrFilename: p}
			if n, ok := res.sizes[p]; ok {
				attrs[types.AttrFilesize] = n
			}
			id, err := c.createLocked(types.KindPix, attrs)
			if err != nil {
				// Only an invalid filename (e.g. empty) gets here; skip it.
				c.log(ctx).Warn("skipping unusable filename", "path", p, "err", err)
				continue
			}
			report.Ingested = append(report.Ingested, id)
		}
	}

	c.metrics.RecordEntities(ctx, string(types.KindPix), int64(len(report.Ingested)))
	c.metrics.RecordIngest(ctx, len(report.Ingested), len(report.Duplicates))
	c.log(ctx).Info("bulk ingest finished",
		"patterns", len(patterns), "matched", report.Matched,
		"ingested", len(report.Ingested), "duplicates", len(report.Duplicates))
	return report, nil
}
