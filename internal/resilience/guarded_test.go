package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/photobox/pkg/graphstore"
	"github.com/MrWong99/photobox/pkg/graphstore/mock"
)

func newTestGuard(conn graphstore.Conn, cfg GuardConfig) (*GuardedConn, *[]time.Duration) {
	g := Guard(conn, cfg)
	var waits []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return g, &waits
}

func TestGuardedConn_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{
		ExecuteErrs: []error{errTest, errTest},
		ExecuteFunc: func(graphstore.Query) ([]graphstore.Record, error) {
			return []graphstore.Record{{"n": int64(1)}}, nil
		},
	}
	g, waits := newTestGuard(conn, GuardConfig{MaxAttempts: 3, Backoff: 10 * time.Millisecond})

	recs, err := g.Execute(context.Background(), graphstore.Query{Statement: "SELECT 1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(recs) != 1 || conn.CallCount("Execute") != 3 {
		t.Fatalf("recs = %v, calls = %d", recs, conn.CallCount("Execute"))
	}
	if len(*waits) != 2 || (*waits)[0] != 10*time.Millisecond || (*waits)[1] != 20*time.Millisecond {
		t.Errorf("backoff = %v, want [10ms 20ms]", *waits)
	}
}

func TestGuardedConn_GivesUp(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{ExecuteErrs: []error{errTest, errTest, errTest}}
	g, _ := newTestGuard(conn, GuardConfig{MaxAttempts: 2, Breaker: CircuitBreakerConfig{MaxFailures: 10}})

	_, err := g.Execute(context.Background(), graphstore.Query{})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if conn.CallCount("Execute") != 2 {
		t.Fatalf("calls = %d, want 2", conn.CallCount("Execute"))
	}
}

func TestGuardedConn_OpenBreakerShortCircuits(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{ExecuteFunc: func(graphstore.Query) ([]graphstore.Record, error) {
		return nil, errTest
	}}
	g, _ := newTestGuard(conn, GuardConfig{
		MaxAttempts: 5,
		Breaker:     CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	_, err := g.Execute(context.Background(), graphstore.Query{})
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrCircuitOpen joined with errTest", err)
	}
	if conn.CallCount("Execute") != 2 {
		t.Fatalf("calls = %d, want 2", conn.CallCount("Execute"))
	}
	if g.Breaker().State() != StateOpen {
		t.Fatal("breaker not open")
	}

	conn.Reset()
	if _, err := g.Execute(context.Background(), graphstore.Query{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if conn.CallCount("Execute") != 0 {
		t.Fatal("open breaker let a call through")
	}
}

func TestGuardedConn_AttemptTimeout(t *testing.T) {
	t.Parallel()

	var deadlineSet bool
	conn := &mock.Conn{}
	g, _ := newTestGuard(conn, GuardConfig{Timeout: time.Second, MaxAttempts: 1})
	g.inner = execFunc(func(ctx context.Context, _ graphstore.Query) ([]graphstore.Record, error) {
		_, deadlineSet = ctx.Deadline()
		return nil, nil
	})
	if _, err := g.Execute(context.Background(), graphstore.Query{}); err != nil {
		t.Fatal(err)
	}
	if !deadlineSet {
		t.Fatal("attempt ran without a deadline")
	}
}

func TestGuardedConn_CancelledCallerStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	conn := &mock.Conn{ExecuteFunc: func(graphstore.Query) ([]graphstore.Record, error) {
		cancel()
		return nil, context.Canceled
	}}
	g, _ := newTestGuard(conn, GuardConfig{MaxAttempts: 5})
	if _, err := g.Execute(ctx, graphstore.Query{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if conn.CallCount("Execute") != 1 {
		t.Fatalf("calls = %d, want 1", conn.CallCount("Execute"))
	}
	if g.Breaker().State() != StateClosed {
		t.Fatal("cancellation tripped the breaker")
	}
}

func TestGuardedConn_PingAndBackend(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{PingErr: errTest}
	g, _ := newTestGuard(conn, GuardConfig{MaxAttempts: 1})
	if err := g.Ping(context.Background()); !errors.Is(err, errTest) {
		t.Fatalf("Ping err = %v", err)
	}
	if g.Backend() != "mock" || g.Unwrap() != conn {
		t.Errorf("Backend = %q", g.Backend())
	}
	if g.Breaker().name != "graphstore.mock" {
		t.Errorf("breaker name = %q", g.Breaker().name)
	}
}

// execFunc adapts a function to graphstore.Conn.
type execFunc func(context.Context, graphstore.Query) ([]graphstore.Record, error)

func (f execFunc) Execute(ctx context.Context, q graphstore.Query) ([]graphstore.Record, error) {
	return f(ctx, q)
}
