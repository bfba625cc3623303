package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// FCMSender is the part of the Firebase messaging client the dispatcher uses.
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMDispatcher delivers pushes through Firebase Cloud Messaging.
type FCMDispatcher struct {
	sender FCMSender
	logger zerolog.Logger
}

// NewFCMDispatcher initialises a Firebase app and its messaging client. An
// empty credentialsFile falls back to application default credentials.
func NewFCMDispatcher(ctx context.Context, projectID, credentialsFile string, logger zerolog.Logger) (*FCMDispatcher, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return NewFCMDispatcherWithSender(client, logger)
}

// NewFCMDispatcherWithSender wraps an existing sender.
func NewFCMDispatcherWithSender(sender FCMSender, logger zerolog.Logger) (*FCMDispatcher, error) {
	if sender == nil {
		return nil, errors.New("fcm sender cannot be nil")
	}
	return &FCMDispatcher{
		sender: sender,
		logger: logger.With().Str("component", "FCMDispatcher").Logger(),
	}, nil
}

// Dispatch sends the notification to a single registration token.
func (d *FCMDispatcher) Dispatch(ctx context.Context, token string, record *notify.NotificationRecord) (*notify.Receipt, error) {
	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: record.Title,
			Body:  record.Body,
		},
		Data: payload(record),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     defaultSound,
				ChannelID: defaultChannel,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: defaultSound},
			},
		},
	}

	id, err := d.sender.Send(ctx, message)
	if err != nil {
		if messaging.IsUnregistered(err) {
			d.logger.Warn().Str("token", token).Msg("FCM reports token unregistered.")
		}
		return nil, deliveryError(token, record, 0, "", fmt.Errorf("failed to send FCM message: %w", err))
	}
	return &notify.Receipt{Token: token, ID: id, Status: "ok"}, nil
}
