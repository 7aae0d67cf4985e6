package feed_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/photobox/internal/feed"
	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/pkg/collection"
)

func newHub(t *testing.T, opts ...feed.Option) *feed.Hub {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return feed.New(append([]feed.Option{feed.WithMetrics(m)}, opts...)...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	h := newHub(t, feed.WithBuffer(1))
	events, cancel := h.Subscribe()
	defer cancel()

	for i := 1; i <= 3; i++ {
		h.Record(collection.Event{Seq: uint64(i), Type: collection.EventCreated})
	}
	if got := h.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
	if e := <-events; e.Seq != 1 {
		t.Errorf("first buffered event seq = %d, want 1", e.Seq)
	}
}

func TestHub_TypeFilterAndCancel(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	events, cancel := h.Subscribe(collection.EventLinked)

	h.Record(collection.Event{Seq: 1, Type: collection.EventCreated})
	h.Record(collection.Event{Seq: 2, Type: collection.EventLinked})
	if e := <-events; e.Seq != 2 {
		t.Fatalf("got seq %d, want 2", e.Seq)
	}
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d", h.Subscribers())
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatal("channel still open after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("Subscribers = %d after cancel", h.Subscribers())
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	events, _ := h.Subscribe()
	h.Close()
	if _, ok := <-events; ok {
		t.Fatal("channel open after Close")
	}
	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscription after Close is open")
	}
}

func TestHub_WebSocketStream(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?types=created,deleted"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	waitFor(t, func() bool { return h.Subscribers() == 1 })

	h.Record(collection.Event{Seq: 1, Type: collection.EventCreated})
	h.Record(collection.Event{Seq: 2, Type: collection.EventLinked})
	h.Record(collection.Event{Seq: 3, Type: collection.EventDeleted})

	for _, want := range []uint64{1, 3} {
		var got collection.Event
		if err := wsjson.Read(ctx, conn, &got); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got.Seq != want {
			t.Errorf("seq = %d, want %d", got.Seq, want)
		}
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return h.Subscribers() == 0 })
}

func TestHub_CollectionJournal(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	events, cancel := h.Subscribe()
	defer cancel()

	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	c := collection.New(collection.WithMetrics(m), collection.WithJournal(h))
	if _, err := c.NewRootSet(context.Background(), "Families"); err != nil {
		t.Fatal(err)
	}
	e := <-events
	if e.Type != collection.EventCreated || e.Entity == nil || e.Entity.Key() != "Families" {
		t.Fatalf("event = %+v", e)
	}
}
