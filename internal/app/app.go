// Package app wires all photobox subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the graph store, restores
// the persisted collection, applies the manifest and ingests the configured
// patterns; Run serves HTTP and flushes changes to the store; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithConn, WithSource,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/photobox/internal/config"
	"github.com/MrWong99/photobox/internal/feed"
	"github.com/MrWong99/photobox/internal/health"
	"github.com/MrWong99/photobox/internal/manifest"
	"github.com/MrWong99/photobox/internal/observe"
	"github.com/MrWong99/photobox/internal/persist"
	"github.com/MrWong99/photobox/internal/resilience"
	"github.com/MrWong99/photobox/pkg/collection"
	"github.com/MrWong99/photobox/pkg/filesource"
	"github.com/MrWong99/photobox/pkg/filesource/s3"
	"github.com/MrWong99/photobox/pkg/graphstore"
	"github.com/MrWong99/photobox/pkg/graphstore/postgres"
	"github.com/MrWong99/photobox/pkg/graphstore/sqlite"
)

const (
	// reloadTimeout bounds the work done for one config change.
	reloadTimeout = 2 * time.Minute

	// serverShutdownGrace is how long in-flight requests get when Run stops.
	serverShutdownGrace = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	conn     graphstore.Conn
	dialect  persist.Dialect
	mirror   *persist.Mirror
	hub      *feed.Hub
	coll     *collection.Collection
	src      filesource.Source
	metrics  *observe.Metrics
	registry *prometheus.Registry
	level    *slog.LevelVar
	handler  http.Handler

	collOpts []collection.Option

	// reloadMu serialises config changes.
	reloadMu sync.Mutex

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithConn injects a graph-store connection instead of opening one from
// config. The SQL dialect follows the connection's backend name, or the
// configured backend when the connection does not name a known one.
func WithConn(c graphstore.Conn) Option {
	return func(a *App) { a.conn = c }
}

// WithSource injects the filename source used for ingest.
func WithSource(s filesource.Source) Option {
	return func(a *App) { a.src = s }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPrometheusRegistry serves /metrics from reg instead of the default
// Prometheus gatherer.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithLevelVar lets config reloads change the log level of the handler that
// owns lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithCollectionOptions passes extra options to [collection.New], after the
// ones the App sets itself.
func WithCollectionOptions(opts ...collection.Option) Option {
	return func(a *App) { a.collOpts = append(a.collOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: store connection, schema
// migration, restore of the persisted collection, manifest application and
// the initial ingest. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Change feed ───────────────────────────────────────────────────
	a.hub = feed.New(feed.WithMetrics(a.metrics))
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 2. Graph store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Collection + journals ─────────────────────────────────────────
	if err := a.initCollection(ctx); err != nil {
		return fmt.Errorf("app: init collection: %w", err)
	}

	// ── 4. Filename source ───────────────────────────────────────────────
	if err := a.initSource(ctx); err != nil {
		return fmt.Errorf("app: init source: %w", err)
	}

	// ── 5. Manifest, then ingest ─────────────────────────────────────────
	if err := a.applyManifest(ctx, a.cfg.Collections.Manifest); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := a.ingest(ctx, a.cfg.Ingest.Patterns); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend, wraps it in a [resilience.GuardedConn]
// and migrates the schema. The memory backend has no store.
func (a *App) initStore(ctx context.Context) error {
	sc := a.cfg.Store
	if a.conn == nil {
		switch sc.Backend {
		case config.BackendSQLite:
			c, err := sqlite.Open(ctx, sc.SQLitePath)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, c.Close)
			a.conn = c
		case config.BackendPostgres:
			c, err := postgres.Open(ctx, sc.PostgresDSN)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				c.Close()
				return nil
			})
			a.conn = c
		default:
			return nil
		}
	}

	d, err := persist.DialectFor(graphstore.BackendName(a.conn))
	if err != nil {
		if d, err = persist.DialectFor(string(sc.Backend)); err != nil {
			return err
		}
	}
	a.dialect = d

	a.conn = resilience.Guard(a.conn, resilience.GuardConfig{
		Timeout:     sc.Timeout,
		MaxAttempts: sc.MaxAttempts,
		Breaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("graph store circuit breaker", "name", name, "from", from, "to", to)
			},
		},
	})

	if err := persist.Migrate(ctx, a.conn, a.dialect); err != nil {
		return err
	}
	if sc.ResetOnStart {
		if err := persist.Reset(ctx, a.conn, a.dialect); err != nil {
			return err
		}
		slog.Info("graph store reset", "backend", a.dialect.Name)
	}
	slog.Info("graph store ready", "backend", a.dialect.Name)
	return nil
}

// initCollection creates the collection and restores persisted state. The
// mirror skips the restored event, so nothing is written back.
func (a *App) initCollection(ctx context.Context) error {
	journals := []collection.Journal{a.hub}
	var snap collection.Snapshot
	if a.conn != nil {
		var err error
		if snap, err = persist.Load(ctx, a.conn, a.dialect); err != nil {
			return err
		}
		a.mirror = persist.NewMirror(a.conn, a.dialect, persist.WithMirrorMetrics(a.metrics))
		journals = append(journals, a.mirror)
		// Flush what is still queued before the connection closes.
		a.closers = append([]func() error{a.flush}, a.closers...)
	}

	opts := []collection.Option{
		collection.WithMetrics(a.metrics),
		collection.WithJournal(journals...),
		collection.WithRestoreOnFailedReparent(a.cfg.Collections.RestoreOnFailedReparent),
	}
	a.coll = collection.New(append(opts, a.collOpts...)...)

	if a.conn == nil {
		return nil
	}
	if err := a.coll.Restore(ctx, snap); err != nil {
		return err
	}
	st := a.coll.Stats()
	slog.Info("collection restored", "sets", st.Sets, "pix", st.Pix, "edges", st.Edges)
	return nil
}

func (a *App) initSource(ctx context.Context) error {
	if a.src != nil {
		return nil
	}
	ic := a.cfg.Ingest
	switch ic.Source {
	case config.SourceS3:
		src, err := s3.New(ctx, ic.S3)
		if err != nil {
			return err
		}
		a.src = src
	default:
		a.src = &filesource.Local{Root: ic.Root}
	}
	return nil
}

func (a *App) applyManifest(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	m, err := manifest.LoadFile(path)
	if err != nil {
		return err
	}
	rep, err := manifest.Apply(ctx, a.coll, m)
	if err != nil {
		return fmt.Errorf("apply manifest %q: %w", path, err)
	}
	slog.Info("manifest applied", "path", path,
		"sets_created", rep.SetsCreated, "sets_reused", rep.SetsReused,
		"pix_created", rep.PixCreated, "linked", rep.Linked, "moved", rep.Moved)
	return nil
}

func (a *App) ingest(ctx context.Context, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	rep, err := a.coll.IngestFrom(ctx, a.src, patterns...)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	slog.Info("ingest complete", "patterns", len(patterns), "matched", rep.Matched,
		"ingested", len(rep.Ingested), "duplicates", len(rep.Duplicates))
	return nil
}

// routes builds the HTTP surface: probes, /metrics and the change feed.
func (a *App) routes() http.Handler {
	var checkers []health.Checker
	if p, ok := a.conn.(graphstore.Pinger); ok {
		checkers = append(checkers, health.StoreChecker(p))
	}
	h := health.New(checkers...).WithDetails(
		health.Detail{Name: "collection", Value: func() any { return a.coll.Stats() }},
		health.Detail{Name: "feed_subscribers", Value: func() any { return a.hub.Subscribers() }},
	)
	if a.mirror != nil {
		h.WithDetails(health.Detail{Name: "store_pending", Value: func() any { return a.mirror.Pending() }})
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.registry))
	mux.Handle("GET /events", a.hub)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Collection returns the live collection.
func (a *App) Collection() *collection.Collection { return a.coll }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and flushes queued changes to the
// graph store until ctx is cancelled. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var wg sync.WaitGroup
	if a.mirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.mirror.Run(ctx, a.cfg.Store.FlushInterval)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("app: serve: %w", err)
		}
	}

	// Close the feed first so websocket handlers return.
	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
	wg.Wait()
	return runErr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ConfigChanged applies a reloaded config. It matches [config.ChangeFunc] and
// is meant to be handed to [config.NewWatcher]. The log level, added ingest
// patterns and the manifest path take effect immediately; everything listed
// in d.RestartRequired is only logged.
func (a *App) ConfigChanged(_, next *config.Config, d config.ConfigDiff) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.PatternsRemoved) > 0 {
		slog.Info("ingest patterns removed; existing pix are kept", "patterns", d.PatternsRemoved)
	}
	if err := a.ingest(ctx, d.PatternsAdded); err != nil {
		slog.Error("reload ingest failed", "patterns", d.PatternsAdded, "err", err)
	}
	if d.ManifestChanged {
		if err := a.applyManifest(ctx, next.Collections.Manifest); err != nil {
			slog.Error("reload manifest failed", "path", next.Collections.Manifest, "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: pending changes are flushed, the feed is
// closed, then the store connection. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs the closers after a failed New.
func (a *App) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

// flush writes queued changes with a bounded grace period.
func (a *App) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
	defer cancel()
	if err := a.mirror.Flush(ctx); err != nil {
		return fmt.Errorf("flush %d pending: %w", a.mirror.Pending(), err)
	}
	return nil
}
