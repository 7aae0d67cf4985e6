package persist

import (
	"fmt"
	"strconv"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	// Name matches [graphstore.BackendName] of the connections it serves.
	Name string

	// JSONType is the column type used for the attributes document.
	JSONType string

	// jsonCast is appended to the placeholder of a JSON parameter.
	jsonCast string

	// intCast types a bare integer parameter, e.g. in a SELECT list.
	intCast string

	// numbered selects $n placeholders instead of ?.
	numbered bool
}

// Supported dialects.
var (
	Postgres = Dialect{Name: "postgres", JSONType: "JSONB", jsonCast: "::jsonb", intCast: "::bigint", numbered: true}
	SQLite   = Dialect{Name: "sqlite", JSONType: "TEXT"}
)

// DialectFor returns the dialect for a backend name.
func DialectFor(backend string) (Dialect, error) {
	switch backend {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("persist: no SQL dialect for backend %q", backend)
}

// P returns the n-th (1-based) placeholder.
func (d Dialect) P(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// JSON returns the n-th placeholder for a JSON-encoded text argument.
func (d Dialect) JSON(n int) string {
	return d.P(n) + d.jsonCast
}

// Int returns the n-th placeholder for an integer argument whose type the
// server cannot infer from context.
func (d Dialect) Int(n int) string {
	return d.P(n) + d.intCast
}
