package domain

import "time"

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is the canonical change notification, independent of which
// transport delivered it. Events are not guaranteed unique, ordered,
// or complete: Snapshot may be nil (deletes) or partial (status-only
// updates), and the same event may arrive on several channels.
type Event struct {
	Kind            EventKind
	OrderID         string
	Snapshot        *Order
	ServerTimestamp time.Time

	// Notify carries the server's play_sound hint for UI consumers.
	Notify bool
}
