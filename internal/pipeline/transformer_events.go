package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
)

type wireUser struct {
	ID             string            `json:"id,omitempty"`
	DisplayName    string            `json:"displayName,omitempty"`
	DeviceTokens   map[string]string `json:"deviceTokens,omitempty"`
	FriendRequests struct {
		Received []string `json:"received,omitempty"`
	} `json:"friendRequests"`
}

type wireMessage struct {
	ID             string `json:"id,omitempty"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text,omitempty"`
	MediaType      string `json:"mediaType,omitempty"`
}

type wireActivity struct {
	ID           string   `json:"id,omitempty"`
	CreatorID    string   `json:"creatorId"`
	Participants []string `json:"participants"`
	Title        string   `json:"title,omitempty"`
}

type wireEvent struct {
	ID         string        `json:"id,omitempty"`
	Type       string        `json:"type"`
	DocumentID string        `json:"documentId,omitempty"`
	OccurredAt *time.Time    `json:"occurredAt,omitempty"`
	Before     *wireUser     `json:"before,omitempty"`
	After      *wireUser     `json:"after,omitempty"`
	Message    *wireMessage  `json:"message,omitempty"`
	Activity   *wireActivity `json:"activity,omitempty"`
}

// EventTransformer decodes a transport message into a change event. Every
// error wraps notify.ErrInvalidPayload; callers drop such messages.
func EventTransformer(_ context.Context, msg *Message) (*notify.Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal change event: %v", notify.ErrInvalidPayload, err)
	}

	event := &notify.Event{
		ID:         wire.ID,
		Type:       notify.EventType(wire.Type),
		DocumentID: wire.DocumentID,
	}
	if event.ID == "" {
		event.ID = msg.ID
	}
	if wire.OccurredAt != nil {
		event.OccurredAt = *wire.OccurredAt
	} else {
		event.OccurredAt = msg.PublishTime
	}

	switch event.Type {
	case notify.EventUserUpdated:
		if wire.After == nil {
			return nil, fmt.Errorf("%w: %s event without after snapshot", notify.ErrInvalidPayload, event.Type)
		}
		event.Before = wire.Before.toUser()
		event.After = wire.After.toUser()
	case notify.EventMessageCreated:
		if wire.Message == nil {
			return nil, fmt.Errorf("%w: %s event without message", notify.ErrInvalidPayload, event.Type)
		}
		event.Message = &notify.Message{
			ID:             wire.Message.ID,
			SenderID:       wire.Message.SenderID,
			ReceiverID:     wire.Message.ReceiverID,
			ConversationID: wire.Message.ConversationID,
			Text:           wire.Message.Text,
			MediaType:      wire.Message.MediaType,
		}
	case notify.EventActivityCreated:
		if wire.Activity == nil {
			return nil, fmt.Errorf("%w: %s event without activity", notify.ErrInvalidPayload, event.Type)
		}
		event.Activity = &notify.Activity{
			ID:           wire.Activity.ID,
			CreatorID:    wire.Activity.CreatorID,
			Participants: wire.Activity.Participants,
			Title:        wire.Activity.Title,
		}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", notify.ErrInvalidPayload, wire.Type)
	}
	return event, nil
}

// EncodeEvent is the inverse of EventTransformer.
func EncodeEvent(event *notify.Event) ([]byte, error) {
	wire := wireEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		DocumentID: event.DocumentID,
		Before:     fromUser(event.Before),
		After:      fromUser(event.After),
	}
	if !event.OccurredAt.IsZero() {
		occurred := event.OccurredAt
		wire.OccurredAt = &occurred
	}
	if m := event.Message; m != nil {
		wire.Message = &wireMessage{
			ID:             m.ID,
			SenderID:       m.SenderID,
			ReceiverID:     m.ReceiverID,
			ConversationID: m.ConversationID,
			Text:           m.Text,
			MediaType:      m.MediaType,
		}
	}
	if a := event.Activity; a != nil {
		wire.Activity = &wireActivity{
			ID:           a.ID,
			CreatorID:    a.CreatorID,
			Participants: a.Participants,
			Title:        a.Title,
		}
	}
	return json.Marshal(wire)
}

func (w *wireUser) toUser() *notify.User {
	if w == nil {
		return nil
	}
	return &notify.User{
		ID:                     w.ID,
		DisplayName:            w.DisplayName,
		DeviceTokens:           w.DeviceTokens,
		FriendRequestsReceived: w.FriendRequests.Received,
	}
}

func fromUser(u *notify.User) *wireUser {
	if u == nil {
		return nil
	}
	w := &wireUser{
		ID:           u.ID,
		DisplayName:  u.DisplayName,
		DeviceTokens: u.DeviceTokens,
	}
	w.FriendRequests.Received = u.FriendRequestsReceived
	return w
}
