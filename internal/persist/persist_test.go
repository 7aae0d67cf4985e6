package persist_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/internal/persist"
	"github.com/MrWong99/photobox/internal/resilience"
	"github.com/MrWong99/photobox/pkg/collection"
	"github.com/MrWong99/photobox/pkg/graphstore"
	"github.com/MrWong99/photobox/pkg/graphstore/mock"
	"github.com/MrWong99/photobox/pkg/graphstore/sqlite"
	"github.com/MrWong99/photobox/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newSQLite opens a migrated in-memory database.
func newSQLite(t *testing.T) *sqlite.Conn {
	t.Helper()
	ctx := context.Background()
	conn, err := sqlite.Open(ctx, sqlite.MemoryPath)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := persist.Migrate(ctx, conn, persist.SQLite); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return conn
}

// mirrored returns a collection journalled into conn.
func mirrored(t *testing.T, conn graphstore.Conn, d persist.Dialect) (*collection.Collection, *persist.Mirror) {
	t.Helper()
	m := testMetrics(t)
	mirror := persist.NewMirror(conn, d, persist.WithMirrorMetrics(m))
	return collection.New(collection.WithMetrics(m), collection.WithJournal(mirror)), mirror
}

func must[T any](v T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return v
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	conn := newSQLite(t)
	if err := persist.Migrate(context.Background(), conn, persist.SQLite); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestMirror_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := newSQLite(t)
	c, mirror := mirrored(t, conn, persist.SQLite)

	families := must(c.NewRootSet(ctx, "Families"))(t)
	nagy := must(c.NewChildSet(ctx, "Nagy", families))(t)
	tyson := must(c.NewChildSet(ctx, "Tyson", families))(t)
	a := must(c.IngestPixWith(ctx, "a.jpg", types.Attributes{
		types.AttrWidth:    800,
		types.AttrKeywords: []string{"beach"},
	}))(t)
	b := must(c.IngestPix(ctx, "b.jpg"))(t)
	cc := must(c.IngestPix(ctx, "c.jpg"))(t)
	for _, p := range []types.ID{a, b, cc} {
		if err := c.Attach(ctx, p, nagy); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Reparent(ctx, a, tyson); err != nil {
		t.Fatal(err)
	}
	if err := c.Reparent(ctx, a, nagy); err != nil { // back in, now last
		t.Fatal(err)
	}
	if err := c.SetAttribute(ctx, b, types.AttrColor, true); err != nil {
		t.Fatal(err)
	}
	gone := must(c.IngestPix(ctx, "gone.jpg"))(t)
	if err := c.Delete(ctx, gone); err != nil {
		t.Fatal(err)
	}

	if err := mirror.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if mirror.Pending() != 0 {
		t.Fatalf("Pending = %d after flush", mirror.Pending())
	}

	snap, err := persist.Load(ctx, conn, persist.SQLite)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.LastID != gone {
		t.Errorf("LastID = %d, want %d (deleted ids still count)", snap.LastID, gone)
	}

	restored := collection.New(collection.WithMetrics(testMetrics(t)))
	if err := restored.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got, want := restored.MembersOf(nagy), c.MembersOf(nagy); !slices.Equal(got, want) {
		t.Errorf("MembersOf(Nagy) = %v, want %v", got, want)
	}
	if restored.Stats() != c.Stats() {
		t.Errorf("Stats = %+v, want %+v", restored.Stats(), c.Stats())
	}
	pa, _ := restored.Get(a)
	if pa.Attributes[types.AttrWidth] != 800 || !slices.Equal(pa.Attributes.Keywords(), []string{"beach"}) {
		t.Errorf("a attributes = %#v", pa.Attributes)
	}
	pb, _ := restored.Get(b)
	if pb.Attributes[types.AttrColor] != true {
		t.Errorf("b attributes = %#v", pb.Attributes)
	}
	if _, ok := restored.ResolvePix("gone.jpg"); ok {
		t.Error("deleted pix came back")
	}
}

func TestMirror_ClearAndReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := newSQLite(t)
	c, mirror := mirrored(t, conn, persist.SQLite)

	s := must(c.NewRootSet(ctx, "s"))(t)
	p := must(c.IngestPix(ctx, "p.jpg"))(t)
	_ = c.Attach(ctx, p, s)
	c.Clear(ctx)
	must(c.NewRootSet(ctx, "after"))(t)
	if err := mirror.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := persist.Load(ctx, conn, persist.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].Key() != "after" || len(snap.Edges) != 0 {
		t.Fatalf("snapshot after Clear = %+v", snap)
	}

	if err := persist.Reset(ctx, conn, persist.SQLite); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap, err = persist.Load(ctx, conn, persist.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Entities) != 0 || snap.LastID == 0 {
		t.Fatalf("snapshot after Reset = %+v, want empty with LastID kept", snap)
	}
}

func TestMirror_FlushStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cause := errors.New("connection refused")
	conn := &mock.Conn{ExecuteErrs: []error{nil, cause}}
	c, mirror := mirrored(t, conn, persist.SQLite)

	must(c.NewRootSet(ctx, "s"))(t) // entity insert + last_id upsert
	must(c.IngestPix(ctx, "p.jpg"))(t)
	if mirror.Pending() != 4 {
		t.Fatalf("Pending = %d, want 4", mirror.Pending())
	}

	err := mirror.Flush(ctx)
	if !errors.Is(err, types.ErrCollaborator) || !errors.Is(err, cause) {
		t.Fatalf("Flush err = %v, want CollaboratorError wrapping cause", err)
	}
	if mirror.Pending() != 3 {
		t.Fatalf("Pending = %d after partial flush, want 3", mirror.Pending())
	}

	// The collection is unaffected by the store outage.
	if _, ok := c.ResolvePix("p.jpg"); !ok {
		t.Fatal("collection lost state on store failure")
	}

	if err := mirror.Flush(ctx); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	qs := conn.Queries()
	if len(qs) != 5 {
		t.Fatalf("executed %d queries, want 5 (one retried)", len(qs))
	}
	if qs[1].Statement != qs[2].Statement {
		t.Error("failed query was not retried first")
	}
}

func TestMirror_IgnoresRestore(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{}
	mirror := persist.NewMirror(conn, persist.SQLite, persist.WithMirrorMetrics(testMetrics(t)))
	mirror.Record(collection.Event{Type: collection.EventRestored, Stats: &collection.Stats{}})
	if mirror.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", mirror.Pending())
	}
}

func TestDialects(t *testing.T) {
	t.Parallel()

	if persist.Postgres.P(3) != "$3" || persist.Postgres.JSON(1) != "$1::jsonb" || persist.Postgres.Int(2) != "$2::bigint" {
		t.Error("postgres placeholders")
	}
	if persist.SQLite.P(3) != "?" || persist.SQLite.JSON(1) != "?" || persist.SQLite.Int(2) != "?" {
		t.Error("sqlite placeholders")
	}
	if _, err := persist.DialectFor("oracle"); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Errorf("DialectFor(oracle) err = %v", err)
	}
	if d, err := persist.DialectFor("postgres"); err != nil || d.Name != "postgres" {
		t.Errorf("DialectFor(postgres) = %v, %v", d, err)
	}
}

func TestLoad_PropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{ExecuteErrs: []error{errors.New("timeout")}}
	if _, err := persist.Load(context.Background(), conn, persist.SQLite); !errors.Is(err, types.ErrCollaborator) {
		t.Fatalf("err = %v, want ErrCollaborator", err)
	}
}

func TestLoad_DecodesDocumentColumns(t *testing.T) {
	t.Parallel()

	// JSONB arrives pre-decoded from pgx; numbers are float64.
	conn := &mock.Conn{ExecuteFunc: func(q graphstore.Query) ([]graphstore.Record, error) {
		switch {
		case strings.Contains(q.Statement, "photobox_entities"):
			return []graphstore.Record{
				{"id": int64(1), "kind": "set", "key": "s", "attributes": map[string]any{"name": "s"}},
				{"id": int64(2), "kind": "pix", "key": "p.jpg", "attributes": []byte(`{"filename":"p.jpg","width":640}`)},
				{"id": int64(3), "kind": "pix", "key": "q.jpg", "attributes": map[string]any{"height": float64(480), "rating": float64(5)}},
			}, nil
		case strings.Contains(q.Statement, "photobox_edges"):
			return []graphstore.Record{{"child_id": int64(2), "parent_id": int64(1)}}, nil
		}
		return []graphstore.Record{{"value": int64(9)}}, nil
	}}

	snap, err := persist.Load(context.Background(), conn, persist.Postgres)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.LastID != 9 || len(snap.Entities) != 3 || len(snap.Edges) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Entities[1].Attributes[types.AttrWidth] != 640 {
		t.Errorf("width = %#v", snap.Entities[1].Attributes[types.AttrWidth])
	}
	if snap.Entities[2].Key() != "q.jpg" || snap.Entities[2].Attributes[types.AttrHeight] != 480 {
		t.Errorf("entity 3 = %+v", snap.Entities[2])
	}
	if got := snap.Entities[2].Attributes["rating"]; got != int64(5) {
		t.Errorf("free-form rating = %#v, want int64(5) as on sqlite", got)
	}
}

// lostAck commits every other statement but reports it as timed out, as a
// store does when the acknowledgement is lost after the commit.
type lostAck struct {
	graphstore.Conn

	mu    sync.Mutex
	calls int
}

func (c *lostAck) Execute(ctx context.Context, q graphstore.Query) ([]graphstore.Record, error) {
	recs, err := c.Conn.Execute(ctx, q)
	c.mu.Lock()
	c.calls++
	lose := c.calls%2 == 1
	c.mu.Unlock()
	if err == nil && lose {
		return nil, context.DeadlineExceeded
	}
	return recs, err
}

func TestMirror_RetriedStatementsAreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newSQLite(t)
	flaky := &lostAck{Conn: db}
	guarded := resilience.Guard(flaky, resilience.GuardConfig{MaxAttempts: 3, Backoff: time.Millisecond})
	c, mirror := mirrored(t, guarded, persist.SQLite)

	families := must(c.NewRootSet(ctx, "Families"))(t)
	nagy := must(c.NewChildSet(ctx, "Nagy", families))(t)
	tyson := must(c.NewChildSet(ctx, "Tyson", families))(t)
	a := must(c.IngestPix(ctx, "a.jpg"))(t)
	b := must(c.IngestPix(ctx, "b.jpg"))(t)
	for _, p := range []types.ID{a, b} {
		if err := c.Attach(ctx, p, nagy); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Reparent(ctx, a, tyson); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAttribute(ctx, b, types.AttrColor, true); err != nil {
		t.Fatal(err)
	}

	if err := mirror.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if mirror.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", mirror.Pending())
	}
	if flaky.calls < 2*10 {
		t.Fatalf("only %d store calls, statements were not retried", flaky.calls)
	}

	snap, err := persist.Load(ctx, db, persist.SQLite)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	restored := collection.New(collection.WithMetrics(testMetrics(t)))
	if err := restored.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Stats() != c.Stats() {
		t.Errorf("Stats = %+v, want %+v", restored.Stats(), c.Stats())
	}
	for _, set := range []types.ID{families, nagy, tyson} {
		if got, want := restored.MembersOf(set), c.MembersOf(set); !slices.Equal(got, want) {
			t.Errorf("MembersOf(%d) = %v, want %v", set, got, want)
		}
	}
	if e, _ := restored.Get(b); e.Attributes[types.AttrColor] != true {
		t.Errorf("b attributes = %#v", e.Attributes)
	}
}

func TestMirror_FreeFormAttributesRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := newSQLite(t)
	c, mirror := mirrored(t, conn, persist.SQLite)

	p := must(c.IngestPixWith(ctx, "a.jpg", types.Attributes{
		"rating": 5,
		"ratio":  float32(0.5),
		"tags":   []string{"dune", "sunset"},
		"exif":   map[string]any{"iso": uint16(200)},
	}))(t)
	if err := c.SetAttribute(ctx, p, "bytes_on_disk", uint64(1<<40)); err != nil {
		t.Fatal(err)
	}
	if err := mirror.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snap, err := persist.Load(ctx, conn, persist.SQLite)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	inMemory, _ := c.Get(p)
	if len(snap.Entities) != 1 || !reflect.DeepEqual(snap.Entities[0].Attributes, inMemory.Attributes) {
		t.Fatalf("loaded attributes = %#v\nwant %#v", snap.Entities[0].Attributes, inMemory.Attributes)
	}
	if inMemory.Attributes["rating"] != int64(5) || inMemory.Attributes["ratio"] != 0.5 {
		t.Errorf("numbers = %#v / %#v, want int64(5) / 0.5", inMemory.Attributes["rating"], inMemory.Attributes["ratio"])
	}
}
