package types

import (
	"errors"
	"fmt"
)

// Model-invariant errors. All of them are recoverable by the caller: retry with
// another name, detach first, or treat a duplicate as "already exists" and
// resolve the existing entity.
var (
	// ErrDuplicateKey is matched by [*DuplicateKeyError].
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound reports an id that does not resolve to a live entity.
	ErrNotFound = errors.New("entity not found")

	// ErrDanglingEndpoint reports an edge endpoint that does not exist.
	ErrDanglingEndpoint = errors.New("dangling edge endpoint")

	// ErrAlreadyMember reports a child that already has a parent; detach first.
	ErrAlreadyMember = errors.New("already a member of a set")

	// ErrCycle reports a Set edge that would make the Set forest cyclic.
	ErrCycle = errors.New("edge would create a cycle")

	// ErrKindMismatch reports an entity of the wrong kind, e.g. a Pix used as
	// the parent of an IN edge.
	ErrKindMismatch = errors.New("entity kind mismatch")

	// ErrInvalidAttribute reports a missing or ill-typed attribute, or an
	// attempt to change an entity's unique key in place.
	ErrInvalidAttribute = errors.New("invalid attribute")
)

// ErrCollaborator is matched by [*CollaboratorError].
var ErrCollaborator = errors.New("external collaborator failed")

// DuplicateKeyError is returned when a unique index already maps Key to a
// different live entity.
type DuplicateKeyError struct {
	// Index names the unique index ("set_name" or "pix_filename").
	Index string

	// Key is the rejected key.
	Key string

	// Existing is the entity the key already belongs to.
	Existing ID
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in index %s (held by entity %d)", e.Key, e.Index, e.Existing)
}

// Is makes errors.Is(err, ErrDuplicateKey) true.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// CollaboratorError wraps a failure of an external collaborator (backing
// store unreachable, file source error). It never matches any of the
// model-invariant sentinels, only [ErrCollaborator] and its own cause.
type CollaboratorError struct {
	// Op names the collaborator operation that failed (e.g. "glob", "flush").
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CollaboratorError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCollaborator) true.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaborator
}

// Collaborator wraps err as a [*CollaboratorError] unless it is nil or
// already one.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}
