package collection

import (
	"time"

	"github.com/MrWong99/photobox/pkg/types"
)

// EventType classifies a change recorded in the journal.
type EventType string

const (
	// EventCreated reports a new Set or Pix. Entity holds its initial state.
	EventCreated EventType = "created"

	// EventAttributeSet reports a changed attribute. Entity holds the state
	// after the change; Key and Value name the attribute.
	EventAttributeSet EventType = "attribute_set"

	// EventDeleted reports a removed entity. Unlinked events for its edges
	// precede it.
	EventDeleted EventType = "deleted"

	// EventLinked reports a new IN edge at Position among the parent's members.
	EventLinked EventType = "linked"

	// EventUnlinked reports a removed IN edge.
	EventUnlinked EventType = "unlinked"

	// EventCleared reports that every entity and edge was dropped.
	EventCleared EventType = "cleared"

	// EventRestored reports that the state was replaced by a snapshot. It
	// describes state that is already persisted.
	EventRestored EventType = "restored"
)

// Event is one ordered change to the collection.
type Event struct {
	// Seq increases by one per event, starting at 1 for each Collection.
	Seq uint64 `json:"seq"`

	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	Entity   *types.Entity `json:"entity,omitempty"`
	Key      string        `json:"key,omitempty"`
	Value    any           `json:"value,omitempty"`
	Edge     *types.Edge   `json:"edge,omitempty"`
	Position int           `json:"position,omitempty"`

	// Stats is set on EventCleared and EventRestored.
	Stats *Stats `json:"stats,omitempty"`
}

// Journal receives every event of a Collection in order.
//
// Record is called synchronously while the collection lock is held, so it
// must not block and must not call back into the collection.
type Journal interface {
	Record(Event)
}

// JournalFunc adapts a function to [Journal].
type JournalFunc func(Event)

// Record implements [Journal].
func (f JournalFunc) Record(e Event) { f(e) }
