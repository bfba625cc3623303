package notify

import "time"

// EventType names a change in the document store.
type EventType string

const (
	EventUserUpdated     EventType = "user.updated"
	EventMessageCreated  EventType = "message.created"
	EventActivityCreated EventType = "activity.created"
)

// Event is one change notification from the document store.
type Event struct {
	ID         string
	Type       EventType
	DocumentID string
	OccurredAt time.Time

	// Before and After are the user snapshots of a user.updated event.
	Before *User
	After  *User

	Message  *Message
	Activity *Activity
}
