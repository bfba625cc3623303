// Package persistence contains components for interacting with data stores.
package persistence

import (
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
)

// userDoc is the shape of a users/{id} document. Only the fields the
// notifier reads are mapped; the rest of the profile is ignored.
type userDoc struct {
	DisplayName    string            `firestore:"displayName"`
	DeviceTokens   map[string]string `firestore:"deviceTokens"`
	FriendRequests struct {
		Received []string `firestore:"received"`
	} `firestore:"friendRequests"`
}

func (d *userDoc) toUser(id string) *notify.User {
	return &notify.User{
		ID:                     id,
		DisplayName:            d.DisplayName,
		DeviceTokens:           d.DeviceTokens,
		FriendRequestsReceived: d.FriendRequests.Received,
	}
}

// notificationDoc is how a NotificationRecord is stored in Firestore.
type notificationDoc struct {
	RecipientID string            `firestore:"recipientId"`
	SenderID    string            `firestore:"senderId"`
	Type        string            `firestore:"type"`
	Title       string            `firestore:"title"`
	Body        string            `firestore:"body"`
	Status      string            `firestore:"status"`
	CreatedAt   time.Time         `firestore:"createdAt"`
	Data        map[string]string `firestore:"data,omitempty"`
}

func toNotificationDoc(r *notify.NotificationRecord) *notificationDoc {
	return &notificationDoc{
		RecipientID: r.RecipientID,
		SenderID:    r.SenderID,
		Type:        string(r.Category),
		Title:       r.Title,
		Body:        r.Body,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		Data:        r.Data,
	}
}
