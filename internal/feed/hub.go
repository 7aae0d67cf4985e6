// Package feed streams collection events to WebSocket clients.
//
// [Hub] is registered as a collection journal. Every event is offered to each
// subscriber's buffered channel without blocking; a subscriber whose buffer is
// full misses the event and the drop is counted. Clients connect to the
// handler returned by [Hub.ServeHTTP] (mounted at GET /events) and receive one
// JSON object per event. The optional query parameter types=created,linked
// restricts the event types sent.
package feed

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/pkg/collection"
)

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 5 * time.Second
)

var (
	_ collection.Journal = (*Hub)(nil)
	_ http.Handler       = (*Hub)(nil)
)

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber event buffer. Default: 64.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics records subscriber and drop metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin WebSocket handshakes from hosts
// matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = append(h.origins, patterns...) }
}

// Hub fans out events to subscribers. It is safe for concurrent use.
type Hub struct {
	buffer  int
	metrics *observe.Metrics
	origins []string

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Uint64
}

type subscriber struct {
	ch    chan collection.Event
	types map[collection.EventType]bool
}

func (s *subscriber) wants(t collection.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// New returns an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{buffer: defaultBuffer, subs: make(map[*subscriber]struct{})}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Record implements [collection.Journal]. It never blocks.
func (h *Hub) Record(e collection.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
			h.metrics.FeedDropped.Add(context.Background(), 1)
		}
	}
}

// Subscribe registers a subscriber for the given event types (all when
// empty). The returned cancel function unregisters it and closes the
// channel; it is safe to call more than once.
func (h *Hub) Subscribe(types ...collection.EventType) (<-chan collection.Event, func()) {
	s := &subscriber{ch: make(chan collection.Event, h.buffer)}
	if len(types) > 0 {
		s.types = make(map[collection.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.metrics.FeedSubscribers.Add(context.Background(), 1)

	var once sync.Once
	return s.ch, func() {
		once.Do(func() { h.remove(s) })
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		close(s.ch)
		h.metrics.FeedSubscribers.Add(context.Background(), -1)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were dropped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber. Later subscriptions receive a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		h.remove(s)
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Warn("feed: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.Subscribe(parseTypes(r.URL.Query().Get("types"))...)
	defer cancel()

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx when the client disconnects.
	ctx := conn.CloseRead(r.Context())
	log.Debug("feed: subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			log.Debug("feed: subscriber left", "remote", r.RemoteAddr)
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, defaultWriteTimeout)
			err := wsjson.Write(wctx, conn, e)
			wcancel()
			if err != nil {
				log.Debug("feed: write failed", "err", err)
				return
			}
		}
	}
}

func parseTypes(raw string) []collection.EventType {
	var out []collection.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, collection.EventType(t))
		}
	}
	return out
}
