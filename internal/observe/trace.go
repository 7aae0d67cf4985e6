package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/photobox/pkg/types"
)

const tracerName = "github.com/MrWong99/photobox"

// Span attribute keys for collection operations.
const (
	AttrEntityID = attribute.Key("photobox.entity.id")
	AttrParentID = attribute.Key("photobox.parent.id")
	AttrKind     = attribute.Key("photobox.entity.kind")

	AttrAttributeKey = attribute.Key("photobox.attribute.key")
)

// Tracer returns the photobox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it, usually through
// [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err on span (when non-nil) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// EntityAttr labels the entity an operation acts on.
func EntityAttr(id types.ID) attribute.KeyValue {
	return AttrEntityID.Int64(int64(id))
}

// ParentAttr labels the Set an operation links to.
func ParentAttr(id types.ID) attribute.KeyValue {
	return AttrParentID.Int64(int64(id))
}

// KindAttr labels the kind of entity an operation creates.
func KindAttr(k types.Kind) attribute.KeyValue {
	return AttrKind.String(string(k))
}

// Annotate adds attributes to the span in ctx, if any.
func Annotate(ctx context.Context, kv ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(kv...)
}

// CorrelationID is the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger carrying the trace of ctx.
// See [WithTrace].
func Logger(ctx context.Context) *slog.Logger {
	return WithTrace(ctx, slog.Default())
}

// WithTrace adds trace_id and span_id from ctx to l. Without an active span
// l is returned unchanged.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
