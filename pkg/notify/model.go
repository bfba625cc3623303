// Package notify defines the public contract of the notification fan-out
// pipeline: the document model, the error taxonomy, the record builder and the
// interfaces the pipeline depends on.
package notify

import (
	"context"
	"time"
)

// Category tags the kind of fact a notification reports.
type Category string

const (
	CategoryFriendRequest Category = "friendRequest"
	CategoryMessage       Category = "message"
	CategoryActivity      Category = "activity"
)

// Status is the read-state of a notification.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// User is the read-only view of a `users/{id}` document.
type User struct {
	ID          string
	DisplayName string
	// DeviceTokens maps a device installation id to its push token.
	DeviceTokens map[string]string
	// FriendRequestsReceived is the ordered `friendRequests.received` list.
	FriendRequestsReceived []string
}

// Message is a `messages/{id}` document.
type Message struct {
	ID             string
	SenderID       string
	ReceiverID     string
	ConversationID string
	Text           string
	MediaType      string
}

// Activity is an `activities/{id}` document.
type Activity struct {
	ID           string
	CreatorID    string
	Participants []string
	Title        string
}

// NotificationRecord is the durable `notifications/{id}` document.
type NotificationRecord struct {
	ID          string
	RecipientID string
	SenderID    string
	Category    Category
	Title       string
	Body        string
	Status      Status
	CreatedAt   time.Time
	Data        map[string]string
}

// Receipt is the gateway acknowledgement for one delivery.
type Receipt struct {
	Token  string
	ID     string
	Status string
	Raw    []byte
}

// UserFetcher reads user documents. It returns an error wrapping
// ErrUserNotFound when the document does not exist.
type UserFetcher interface {
	FetchUser(ctx context.Context, userID string) (*User, error)
}

// NotificationStore persists notification records. CreateNotification must
// not overwrite; an existing record yields ErrDuplicateNotification.
type NotificationStore interface {
	CreateNotification(ctx context.Context, record *NotificationRecord) error
}

// PushDispatcher delivers one notification to one device token.
type PushDispatcher interface {
	Dispatch(ctx context.Context, token string, record *NotificationRecord) (*Receipt, error)
}
