package notify

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxMessagePreview is the number of characters of a message body copied
	// into a notification before it is truncated.
	MaxMessagePreview = 50
	truncationMarker  = "..."
	fallbackSender    = "Someone"
)

var titles = map[Category]string{
	CategoryFriendRequest: "New Friend Request",
	CategoryMessage:       "New Message",
	CategoryActivity:      "New Activity",
}

// recordNamespace scopes deterministic notification ids.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("notifications.activity-notifier"))

// RecordContext carries the category specific inputs of a notification.
type RecordContext struct {
	// FactID identifies the triggering fact (message id, activity id, ...).
	FactID        string
	SenderName    string
	MessageText   string
	MediaType     string
	ActivityTitle string
	Data          map[string]string
}

// Builder produces NotificationRecords. Timestamps handed out by one Builder
// never decrease.
type Builder struct {
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewBuilder returns a Builder using now as its clock; nil means time.Now.
func NewBuilder(now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now}
}

// Build creates an unread record for recipientID. It fails with
// ErrSelfNotification when sender and recipient are the same user.
func (b *Builder) Build(category Category, senderID, recipientID string, rc RecordContext) (*NotificationRecord, error) {
	if senderID == recipientID {
		return nil, fmt.Errorf("build %s notification for %s: %w", category, recipientID, ErrSelfNotification)
	}
	title, ok := titles[category]
	if !ok {
		return nil, fmt.Errorf("unknown notification category %q", category)
	}

	data := make(map[string]string, len(rc.Data))
	for k, v := range rc.Data {
		data[k] = v
	}

	return &NotificationRecord{
		ID:          RecordID(category, recipientID, rc.FactID),
		RecipientID: recipientID,
		SenderID:    senderID,
		Category:    category,
		Title:       title,
		Body:        body(category, rc),
		Status:      StatusUnread,
		CreatedAt:   b.timestamp(),
		Data:        data,
	}, nil
}

func (b *Builder) timestamp() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.now().UTC()
	if t.Before(b.last) {
		t = b.last
	}
	b.last = t
	return t
}

// RecordID derives the identity of a notification from its category,
// recipient and triggering fact, so a replayed trigger maps to the same record.
func RecordID(category Category, recipientID, factID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(string(category)+"|"+recipientID+"|"+factID)).String()
}

func body(category Category, rc RecordContext) string {
	name := rc.SenderName
	if name == "" {
		name = fallbackSender
	}
	switch category {
	case CategoryFriendRequest:
		return name + " sent you a friend request."
	case CategoryMessage:
		if rc.MessageText == "" {
			kind := rc.MediaType
			if kind == "" || kind == "text" {
				kind = "message"
			}
			return fmt.Sprintf("%s sent you a new %s.", name, kind)
		}
		return name + ": " + Truncate(rc.MessageText, MaxMessagePreview)
	case CategoryActivity:
		if rc.ActivityTitle == "" {
			return name + " added you to an activity."
		}
		return fmt.Sprintf("%s added you to %q.", name, rc.ActivityTitle)
	}
	return ""
}

// Truncate shortens s to limit characters and appends a marker when it cut
// anything.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationMarker
}
