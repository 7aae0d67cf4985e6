package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/photobox/pkg/types"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := tracer.Start(context.Background(), "collection.attach")
		cid := CorrelationID(ctx)
		span.End()
		if !traceIDPattern.MatchString(cid) {
			t.Fatalf("correlation ID %q is not a 32-char hex trace id", cid)
		}
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate correlation ID: %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "collection.reparent")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "collection.reparent" {
		t.Fatalf("spans = %v, want one collection.reparent span", spans)
	}
	if Tracer() == nil {
		t.Fatal("Tracer() returned nil")
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	_, ok := tracer.Start(context.Background(), "collection.new_root_set")
	EndSpan(ok, nil)
	_, failed := tracer.Start(context.Background(), "collection.attach")
	EndSpan(failed, errors.New("cycle"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("ok span status = %v, want Unset", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "cycle" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span has no error event")
	}
}

func TestLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("restored")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span carries trace_id: %s", buf)
	}
	buf.Reset()

	ctx, span := tp.Tracer("test").Start(context.Background(), "collection.restore")
	defer span.End()
	Logger(ctx).Info("restored")
	logged := buf.String()
	for _, key := range []string{"trace_id=", "span_id="} {
		if !strings.Contains(logged, key) {
			t.Errorf("log output missing %s, got: %s", key, logged)
		}
	}
}

func TestWithTrace_EnrichesInjectedLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("component", "importer")

	if WithTrace(context.Background(), base) != base {
		t.Error("WithTrace without a span returned a new logger")
	}

	ctx, span := tp.Tracer("test").Start(context.Background(), "collection.ingest_from")
	defer span.End()
	WithTrace(ctx, base).Info("ingested")
	logged := buf.String()
	for _, want := range []string{"component=importer", "trace_id=" + span.SpanContext().TraceID().String(), "span_id="} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %s, got: %s", want, logged)
		}
	}
}

func TestAnnotate_EntityAttributes(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	// No span in ctx: a no-op.
	Annotate(context.Background(), EntityAttr(1))

	ctx, span := tp.Tracer("test").Start(context.Background(), "collection.new_child_set")
	Annotate(ctx, KindAttr(types.KindSet), EntityAttr(7), ParentAttr(3), AttrAttributeKey.String("width"))
	span.End()

	got := map[string]string{}
	for _, kv := range exp.GetSpans()[0].Attributes {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"photobox.entity.kind":   "set",
		"photobox.entity.id":     "7",
		"photobox.parent.id":     "3",
		"photobox.attribute.key": "width",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
