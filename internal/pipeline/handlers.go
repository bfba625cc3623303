package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
)

// Handlers reacts to document-store changes by recording notifications and
// pushing them to the recipients' devices. Each call is independent and keeps
// no state between events.
type Handlers struct {
	users    notify.UserFetcher
	store    notify.NotificationStore
	resolver *TokenResolver
	fanout   *FanOut
	builder  *notify.Builder
	observer Observer
	logger   zerolog.Logger
}

// HandlersConfig tunes the handlers.
type HandlersConfig struct {
	MaxConcurrentDispatch int
	Builder               *notify.Builder
	Observer              Observer
}

// NewHandlers wires the handlers to their collaborators.
func NewHandlers(deps *notify.Dependencies, cfg HandlersConfig, logger zerolog.Logger) (*Handlers, error) {
	if deps == nil || deps.Users == nil || deps.Notifications == nil || deps.Dispatcher == nil {
		return nil, errors.New("handlers require a user fetcher, a notification store and a push dispatcher")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	builder := cfg.Builder
	if builder == nil {
		builder = notify.NewBuilder(nil)
	}

	return &Handlers{
		users:    deps.Users,
		store:    deps.Notifications,
		resolver: NewTokenResolver(deps.Users, deps.Validator, logger),
		fanout:   NewFanOut(deps.Dispatcher, cfg.MaxConcurrentDispatch, observer, logger),
		builder:  builder,
		observer: observer,
		logger:   logger.With().Str("component", "Handlers").Logger(),
	}, nil
}

// HandleUserUpdated notifies a user about friend requests that appeared
// between the before and after snapshots. Failures for one sender do not stop
// the others; only persistence failures are returned.
func (h *Handlers) HandleUserUpdated(ctx context.Context, event *notify.Event) error {
	if event.After == nil {
		return fmt.Errorf("%w: user.updated event %s has no after snapshot", notify.ErrInvalidPayload, event.ID)
	}
	recipientID := event.DocumentID
	if recipientID == "" {
		recipientID = event.After.ID
	}
	if recipientID == "" {
		return fmt.Errorf("%w: user.updated event %s has no document id", notify.ErrInvalidPayload, event.ID)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: user.updated event for %s has no event id", notify.ErrInvalidPayload, recipientID)
	}

	var before []string
	if event.Before != nil {
		before = event.Before.FriendRequestsReceived
	}
	added := NewlyAdded(before, event.After.FriendRequestsReceived)
	if len(added) == 0 {
		return nil
	}

	logger := h.logger.With().Str("event_id", event.ID).Str("recipient_id", recipientID).Logger()
	logger.Info().Int("count", len(added)).Msg("New friend requests received.")

	var errs []error
	for _, senderID := range added {
		if senderID == "" || senderID == recipientID {
			continue
		}
		senderLogger := logger.With().Str("sender_id", senderID).Logger()

		sender, err := h.fetchSender(ctx, senderID)
		if err != nil {
			senderLogger.Warn().Err(err).Msg("Skipping friend request notification; sender profile unavailable.")
			continue
		}

		record, err := h.builder.Build(notify.CategoryFriendRequest, senderID, recipientID, notify.RecordContext{
			// A request that is withdrawn and re-sent is a new fact; a
			// redelivered event keeps its id.
			FactID:     recipientID + ":" + senderID + ":" + event.ID,
			SenderName: sender.DisplayName,
			Data:       map[string]string{"senderId": senderID},
		})
		if err != nil {
			senderLogger.Error().Err(err).Msg("Failed to build friend request notification.")
			continue
		}
		if err := h.deliver(ctx, record, senderLogger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleMessageCreated notifies the receiver of a new message. A missing
// receiver or a message to oneself is a no-op; an unknown sender aborts the
// event.
func (h *Handlers) HandleMessageCreated(ctx context.Context, event *notify.Event) error {
	msg := event.Message
	if msg == nil {
		return fmt.Errorf("%w: message.created event %s has no message", notify.ErrInvalidPayload, event.ID)
	}
	messageID := firstNonEmpty(msg.ID, event.DocumentID, event.ID)
	if messageID == "" {
		return fmt.Errorf("%w: message.created event has no message id", notify.ErrInvalidPayload)
	}
	logger := h.logger.With().Str("event_id", event.ID).Str("message_id", messageID).Logger()

	if msg.ReceiverID == "" {
		logger.Warn().Msg("Message has no receiver; dropping event.")
		return nil
	}
	if msg.SenderID == msg.ReceiverID {
		logger.Debug().Msg("Message sent to self; no notification.")
		return nil
	}
	logger = logger.With().Str("sender_id", msg.SenderID).Str("recipient_id", msg.ReceiverID).Logger()

	sender, err := h.fetchSender(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("message %s: %w", messageID, err)
	}

	record, err := h.builder.Build(notify.CategoryMessage, msg.SenderID, msg.ReceiverID, notify.RecordContext{
		FactID:      messageID,
		SenderName:  sender.DisplayName,
		MessageText: msg.Text,
		MediaType:   msg.MediaType,
		Data: map[string]string{
			"messageId":      messageID,
			"conversationId": msg.ConversationID,
			"senderId":       msg.SenderID,
		},
	})
	if err != nil {
		return fmt.Errorf("message %s: %w", messageID, err)
	}
	return h.deliver(ctx, record, logger)
}

// HandleActivityCreated notifies every participant of a new activity except
// its creator. Participants are processed independently.
func (h *Handlers) HandleActivityCreated(ctx context.Context, event *notify.Event) error {
	activity := event.Activity
	if activity == nil {
		return fmt.Errorf("%w: activity.created event %s has no activity", notify.ErrInvalidPayload, event.ID)
	}
	activityID := firstNonEmpty(activity.ID, event.DocumentID, event.ID)
	if activityID == "" {
		return fmt.Errorf("%w: activity.created event has no activity id", notify.ErrInvalidPayload)
	}
	logger := h.logger.With().Str("event_id", event.ID).Str("activity_id", activityID).Str("sender_id", activity.CreatorID).Logger()

	creator, err := h.fetchSender(ctx, activity.CreatorID)
	if err != nil {
		return fmt.Errorf("activity %s: %w", activityID, err)
	}

	seen := make(map[string]struct{}, len(activity.Participants))
	var errs []error
	for _, participantID := range activity.Participants {
		if participantID == "" || participantID == activity.CreatorID {
			continue
		}
		if _, dup := seen[participantID]; dup {
			continue
		}
		seen[participantID] = struct{}{}
		participantLogger := logger.With().Str("recipient_id", participantID).Logger()

		record, err := h.builder.Build(notify.CategoryActivity, activity.CreatorID, participantID, notify.RecordContext{
			FactID:        activityID,
			SenderName:    creator.DisplayName,
			ActivityTitle: activity.Title,
			Data: map[string]string{
				"activityId": activityID,
				"creatorId":  activity.CreatorID,
			},
		})
		if err != nil {
			participantLogger.Error().Err(err).Msg("Failed to build activity notification.")
			continue
		}
		if err := h.deliver(ctx, record, participantLogger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver persists the record and then fans it out. Only a persistence
// failure is returned; a record that already exists is not pushed again.
func (h *Handlers) deliver(ctx context.Context, record *notify.NotificationRecord, logger zerolog.Logger) error {
	logger = logger.With().Str("notification_id", record.ID).Logger()

	err := h.store.CreateNotification(ctx, record)
	if errors.Is(err, notify.ErrDuplicateNotification) {
		h.observer.Record(record.Category, OutcomeDuplicate)
		logger.Info().Msg("Notification already recorded; skipping push.")
		return nil
	}
	if err != nil {
		h.observer.Record(record.Category, OutcomeFailed)
		logger.Error().Err(err).Msg("Notification record could not be persisted.")
		return fmt.Errorf("failed to persist notification %s for %s: %w", record.ID, record.RecipientID, err)
	}
	h.observer.Record(record.Category, OutcomeCreated)

	tokens, err := h.resolver.Resolve(ctx, record.RecipientID)
	if err != nil {
		if errors.Is(err, notify.ErrRecipientNotFound) {
			logger.Warn().Msg("Recipient document not found; notification recorded without push.")
		} else {
			logger.Error().Err(err).Msg("Failed to resolve device tokens; notification recorded without push.")
		}
		return nil
	}
	if len(tokens) == 0 {
		logger.Info().Msg("No dispatchable device tokens for recipient.")
		return nil
	}

	outcomes := h.fanout.Send(ctx, tokens, record)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	logger.Info().Int("tokens", len(tokens)).Int("failed", failed).Msg("Push fan-out complete.")
	return nil
}

func (h *Handlers) fetchSender(ctx context.Context, senderID string) (*notify.User, error) {
	if senderID == "" {
		return nil, fmt.Errorf("%w: empty sender id", notify.ErrSenderNotFound)
	}
	sender, err := h.users.FetchUser(ctx, senderID)
	if err != nil {
		if errors.Is(err, notify.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", notify.ErrSenderNotFound, senderID)
		}
		return nil, fmt.Errorf("failed to fetch sender %s: %w", senderID, err)
	}
	return sender, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
