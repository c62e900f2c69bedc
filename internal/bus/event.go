// Package bus carries in-process notifications between components.
package bus

import "time"

// Event is a notification published on the bus. Kind is dot-namespaced
// ("session.status_changed") so subscribers can filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
