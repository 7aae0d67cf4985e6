package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/photobox/pkg/graphstore"
	"github.com/MrWong99/photobox/pkg/graphstore/mock"
)

func TestConn_ScriptedErrorsThenFunc(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	conn := &mock.Conn{
		ExecuteErrs: []error{boom, nil},
		ExecuteFunc: func(q graphstore.Query) ([]graphstore.Record, error) {
			return []graphstore.Record{{"stmt": q.Statement}}, nil
		},
	}
	ctx := context.Background()

	if _, err := conn.Execute(ctx, graphstore.Query{Statement: "one"}); !errors.Is(err, boom) {
		t.Fatalf("first call: err = %v, want boom", err)
	}
	rows, err := conn.Execute(ctx, graphstore.Query{Statement: "two"})
	if err != nil || len(rows) != 1 || rows[0]["stmt"] != "two" {
		t.Fatalf("second call = %v, %v", rows, err)
	}
	if got := conn.CallCount("Execute"); got != 2 {
		t.Fatalf("CallCount = %d, want 2", got)
	}
	if qs := conn.Queries(); len(qs) != 2 || qs[0].Statement != "one" {
		t.Fatalf("Queries = %+v", qs)
	}

	conn.Reset()
	if len(conn.Calls()) != 0 {
		t.Fatal("Reset kept calls")
	}
}
