// Package mock provides an in-memory test double for [graphstore.Conn].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	conn := &mock.Conn{}
//	conn.ExecuteFunc = func(q graphstore.Query) ([]graphstore.Record, error) {
//	    return []graphstore.Record{{"id": int64(1)}}, nil
//	}
//
//	// inject conn into the system under test …
//
//	if got := conn.CallCount("Execute"); got != 1 {
//	    t.Errorf("expected 1 Execute call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/photobox/pkg/graphstore"
)

// Compile-time interface checks.
var (
	_ graphstore.Conn    = (*Conn)(nil)
	_ graphstore.Pinger  = (*Conn)(nil)
	_ graphstore.Backend = (*Conn)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Conn is a configurable test double for [graphstore.Conn].
type Conn struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// ExecuteFunc, when set, computes the result of [Conn.Execute].
	ExecuteFunc func(q graphstore.Query) ([]graphstore.Record, error)

	// ExecuteErrs are returned by successive Execute calls before
	// ExecuteFunc is consulted; a nil entry means success.
	ExecuteErrs []error

	// PingErr is returned by [Conn.Ping] when non-nil.
	PingErr error
}

// Execute implements [graphstore.Conn].
func (m *Conn) Execute(_ context.Context, q graphstore.Query) ([]graphstore.Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Execute", Args: []any{q}})
	if len(m.ExecuteErrs) > 0 {
		err := m.ExecuteErrs[0]
		m.ExecuteErrs = m.ExecuteErrs[1:]
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	fn := m.ExecuteFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(q)
}

// Ping implements [graphstore.Pinger].
func (m *Conn) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}

// Backend implements [graphstore.Backend].
func (m *Conn) Backend() string { return "mock" }

// Calls returns a copy of all recorded method invocations.
func (m *Conn) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *Conn) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Queries returns the queries passed to Execute, in order.
func (m *Conn) Queries() []graphstore.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []graphstore.Query
	for _, c := range m.calls {
		if c.Method == "Execute" {
			out = append(out, c.Args[0].(graphstore.Query))
		}
	}
	return out
}

// Reset clears all recorded calls.
func (m *Conn) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
