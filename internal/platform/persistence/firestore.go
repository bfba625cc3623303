package persistence

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection         = "users"
	notificationsCollection = "notifications"
)

// FirestoreStore reads user profiles and writes notification records in
// Google Cloud Firestore. It implements notify.UserFetcher and
// notify.NotificationStore.
type FirestoreStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreStore is the constructor for the FirestoreStore.
func NewFirestoreStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	store := &FirestoreStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreStore").Logger(),
	}
	return store, nil
}

// FetchUser reads users/{userID}. A missing document wraps
// notify.ErrUserNotFound.
func (s *FirestoreStore) FetchUser(ctx context.Context, userID string) (*notify.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", notify.ErrUserNotFound)
	}
	snap, err := s.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", notify.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", userID, err)
	}
	return doc.toUser(snap.Ref.ID), nil
}

// CreateNotification writes notifications/{record.ID}. The write never
// overwrites: an existing document yields notify.ErrDuplicateNotification.
func (s *FirestoreStore) CreateNotification(ctx context.Context, record *notify.NotificationRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("notification record requires an id")
	}
	_, err := s.client.Collection(notificationsCollection).Doc(record.ID).Create(ctx, toNotificationDoc(record))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", notify.ErrDuplicateNotification, record.ID)
		}
		return fmt.Errorf("failed to create notification %s: %w", record.ID, err)
	}
	s.logger.Debug().
		Str("notification_id", record.ID).
		Str("recipient_id", record.RecipientID).
		Str("category", string(record.Category)).
		Msg("Notification record created.")
	return nil
}
