// Package observe provides application-wide observability primitives for
// photobox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all photobox metrics.
const meterName = "github.com/MrWong99/photobox"

// Metrics holds the OpenTelemetry instruments photobox records into. All
// fields are safe for concurrent use.
type Metrics struct {
	// --- Collection operations ---

	// OperationDuration tracks the latency of collection operations. Use with:
	//   attribute.String("op", ...)
	OperationDuration metric.Float64Histogram

	// Operations counts collection operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	Operations metric.Int64Counter

	// OperationErrors counts rejected operations by error kind. Use with:
	//   attribute.String("op", ...), attribute.String("kind", ...)
	OperationErrors metric.Int64Counter

	// --- Gauges ---

	// Entities tracks live entities. Use with attribute.String("kind", ...).
	Entities metric.Int64UpDownCounter

	// Edges tracks live IN edges.
	Edges metric.Int64UpDownCounter

	// --- Ingest ---

	// IngestedFiles counts filenames seen by bulk ingest. Use with:
	//   attribute.String("status", "ingested"|"duplicate")
	IngestedFiles metric.Int64Counter

	// --- Graph store ---

	// StoreQueryDuration tracks graph-store query latency. Use with:
	//   attribute.String("backend", ...)
	StoreQueryDuration metric.Float64Histogram

	// StoreErrors counts failed graph-store queries. Use with:
	//   attribute.String("backend", ...)
	StoreErrors metric.Int64Counter

	// StorePending tracks journalled queries waiting to be flushed.
	StorePending metric.Int64UpDownCounter

	// --- Change feed ---

	// FeedSubscribers tracks connected change-feed subscribers.
	FeedSubscribers metric.Int64UpDownCounter

	// FeedDropped counts events dropped for slow subscribers.
	FeedDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). In-memory
// operations land in the first buckets, store round trips further up.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.OperationDuration, err = m.Float64Histogram("photobox.operation.duration",
		metric.WithDescription("Latency of collection operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreQueryDuration, err = m.Float64Histogram("photobox.store.query.duration",
		metric.WithDescription("Latency of graph-store queries by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Operations, err = m.Int64Counter("photobox.operations",
		metric.WithDescription("Total collection operations by op and status."),
	); err != nil {
		return nil, err
	}
	if met.IngestedFiles, err = m.Int64Counter("photobox.ingest.files",
		metric.WithDescription("Filenames seen by bulk ingest by status."),
	); err != nil {
		return nil, err
	}
	if met.FeedDropped, err = m.Int64Counter("photobox.feed.dropped",
		metric.WithDescription("Change-feed events dropped for slow subscribers."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.OperationErrors, err = m.Int64Counter("photobox.operation.errors",
		metric.WithDescription("Rejected collection operations by op and error kind."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("photobox.store.errors",
		metric.WithDescription("Failed graph-store queries by backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Entities, err = m.Int64UpDownCounter("photobox.entities",
		metric.WithDescription("Number of live entities by kind."),
	); err != nil {
		return nil, err
	}
	if met.Edges, err = m.Int64UpDownCounter("photobox.edges",
		metric.WithDescription("Number of live IN edges."),
	); err != nil {
		return nil, err
	}
	if met.StorePending, err = m.Int64UpDownCounter("photobox.store.pending",
		metric.WithDescription("Journalled graph-store queries waiting to be flushed."),
	); err != nil {
		return nil, err
	}
	if met.FeedSubscribers, err = m.Int64UpDownCounter("photobox.feed.subscribers",
		metric.WithDescription("Number of connected change-feed subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("photobox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordOperation records one finished collection operation: its duration,
// the status counter and, when errKind is non-empty, the error counter.
func (m *Metrics) RecordOperation(ctx context.Context, op string, d time.Duration, errKind string) {
	status := "ok"
	if errKind != "" {
		status = "error"
		m.OperationErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("op", op),
				attribute.String("kind", errKind),
			),
		)
	}
	m.OperationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
	m.Operations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordEntities adjusts the live entity gauge for kind by delta.
func (m *Metrics) RecordEntities(ctx context.Context, kind string, delta int64) {
	m.Entities.Add(ctx, delta, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordIngest records a bulk-ingest result.
func (m *Metrics) RecordIngest(ctx context.Context, ingested, duplicates int) {
	if ingested > 0 {
		m.IngestedFiles.Add(ctx, int64(ingested), metric.WithAttributes(attribute.String("status", "ingested")))
	}
	if duplicates > 0 {
		m.IngestedFiles.Add(ctx, int64(duplicates), metric.WithAttributes(attribute.String("status", "duplicate")))
	}
}

// RecordStoreQuery records a graph-store query latency and, on failure, the
// error counter.
func (m *Metrics) RecordStoreQuery(ctx context.Context, backend string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	m.StoreQueryDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.StoreErrors.Add(ctx, 1, attrs)
	}
}
