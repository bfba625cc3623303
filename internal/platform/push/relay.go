package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
)

// Publisher sends a raw payload to a topic and returns the broker's id.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) (string, error)
}

// RelayRequest is the message a RelayDispatcher publishes for a downstream
// delivery service.
type RelayRequest struct {
	Token          string            `json:"token"`
	NotificationID string            `json:"notificationId"`
	RecipientID    string            `json:"recipientId"`
	Category       string            `json:"category"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Sound          string            `json:"sound"`
	Data           map[string]string `json:"data,omitempty"`
}

// RelayDispatcher hands each push to a message topic instead of calling a
// gateway directly. A publish failure counts as a failed delivery.
type RelayDispatcher struct {
	publisher Publisher
	logger    zerolog.Logger
}

// NewRelayDispatcher creates a relay dispatcher.
func NewRelayDispatcher(publisher Publisher, logger zerolog.Logger) (*RelayDispatcher, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &RelayDispatcher{
		publisher: publisher,
		logger:    logger.With().Str("component", "RelayDispatcher").Logger(),
	}, nil
}

// Dispatch publishes one relay request.
func (d *RelayDispatcher) Dispatch(ctx context.Context, token string, record *notify.NotificationRecord) (*notify.Receipt, error) {
	body, err := json.Marshal(RelayRequest{
		Token:          token,
		NotificationID: record.ID,
		RecipientID:    record.RecipientID,
		Category:       string(record.Category),
		Title:          record.Title,
		Body:           record.Body,
		Sound:          defaultSound,
		Data:           payload(record),
	})
	if err != nil {
		return nil, deliveryError(token, record, 0, "", fmt.Errorf("failed to marshal relay request: %w", err))
	}

	id, err := d.publisher.Publish(ctx, body, map[string]string{
		"category":    string(record.Category),
		"recipientId": record.RecipientID,
	})
	if err != nil {
		return nil, deliveryError(token, record, 0, "", fmt.Errorf("failed to publish relay request: %w", err))
	}

	d.logger.Debug().Str("recipient_id", record.RecipientID).Str("message_id", id).Msg("Push relay request published.")
	return &notify.Receipt{Token: token, ID: id, Status: "queued"}, nil
}
