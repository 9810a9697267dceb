package types

import "time"

// EventType identifies which of the four counter buttons produced an event.
type EventType string

const (
	EventAIn  EventType = "A_IN"
	EventAOut EventType = "A_OUT"
	EventBIn  EventType = "B_IN"
	EventBOut EventType = "B_OUT"
)

// EventTypes lists every valid event type in a stable order.
var EventTypes = []EventType{EventAIn, EventAOut, EventBIn, EventBOut}

// Valid reports whether t is one of the enumerated event types.
func (t EventType) Valid() bool {
	switch t {
	case EventAIn, EventAOut, EventBIn, EventBOut:
		return true
	}
	return false
}

const (
	MinDoorNumber = 1
	MaxDoorNumber = 26
)

// ValidDoorNumber reports whether n is within the fixed door range.
func ValidDoorNumber(n int) bool {
	return n >= MinDoorNumber && n <= MaxDoorNumber
}

// Event is a single recorded door observation.
//
// OccurredAt is assigned by the server at insert time and is the
// authoritative record of when the event happened; caller-supplied
// timestamps are never accepted. DeletedAt is nil while the event is
// active and set exactly once by an undo.
type Event struct {
	ID         int64      `json:"id"`
	DoorNumber int        `json:"door_number"`
	EventType  EventType  `json:"event_type"`
	OccurredAt time.Time  `json:"timestamp_utc"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the event has not been undone.
func (e Event) Active() bool { return e.DeletedAt == nil }
