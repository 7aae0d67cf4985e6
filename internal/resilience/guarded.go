package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/photobox/pkg/graphstore"
)

// Compile-time interface checks.
var (
	_ graphstore.Conn    = (*GuardedConn)(nil)
	_ graphstore.Pinger  = (*GuardedConn)(nil)
	_ graphstore.Backend = (*GuardedConn)(nil)
)

// GuardConfig tunes a [GuardedConn].
type GuardConfig struct {
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// MaxAttempts is the number of tries per call, including the first.
	// Default: 3.
	MaxAttempts int

	// Backoff is the wait before the second attempt; it doubles for every
	// further attempt. Default: 100ms.
	Backoff time.Duration

	// Breaker configures the breaker shared by all calls. Its Name defaults
	// to the backend name.
	Breaker CircuitBreakerConfig
}

// GuardedConn decorates a [graphstore.Conn] with a per-attempt timeout,
// bounded retries with exponential backoff and a circuit breaker. A call
// rejected by the open breaker is not retried.
type GuardedConn struct {
	inner   graphstore.Conn
	cfg     GuardConfig
	breaker *CircuitBreaker
	sleep   func(context.Context, time.Duration) error
}

// Guard wraps conn.
func Guard(conn graphstore.Conn, cfg GuardConfig) *GuardedConn {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "graphstore." + graphstore.BackendName(conn)
	}
	return &GuardedConn{
		inner:   conn,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.Breaker),
		sleep:   sleepCtx,
	}
}

// Execute implements [graphstore.Conn].
func (g *GuardedConn) Execute(ctx context.Context, q graphstore.Query) ([]graphstore.Record, error) {
	var recs []graphstore.Record
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		recs, err = g.inner.Execute(ctx, q)
		return err
	})
	return recs, err
}

// Ping implements [graphstore.Pinger]. A connection without a Ping method is
// considered reachable.
func (g *GuardedConn) Ping(ctx context.Context) error {
	p, ok := g.inner.(graphstore.Pinger)
	if !ok {
		return nil
	}
	return g.do(ctx, p.Ping)
}

// Backend implements [graphstore.Backend].
func (g *GuardedConn) Backend() string { return graphstore.BackendName(g.inner) }

// Breaker returns the breaker guarding the connection.
func (g *GuardedConn) Breaker() *CircuitBreaker { return g.breaker }

// Unwrap returns the wrapped connection.
func (g *GuardedConn) Unwrap() graphstore.Conn { return g.inner }

func (g *GuardedConn) do(ctx context.Context, fn func(context.Context) error) error {
	var last error
	backoff := g.cfg.Backoff
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.sleep(ctx, backoff); err != nil {
				return errors.Join(last, err)
			}
			backoff *= 2
		}

		err := g.breaker.Execute(func() error {
			actx, cancel := g.attemptContext(ctx)
			defer cancel()
			return fn(actx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrCircuitOpen):
			if last != nil {
				return errors.Join(last, err)
			}
			return err
		case ctx.Err() != nil:
			return err
		}
		last = err
	}
	return fmt.Errorf("after %d attempts: %w", g.cfg.MaxAttempts, last)
}

func (g *GuardedConn) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, g.cfg.Timeout)
	}
	return ctx, func() {}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
