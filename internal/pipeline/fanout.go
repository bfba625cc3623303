package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrentDispatch bounds deliveries per recipient when the
// configuration leaves it unset.
const DefaultMaxConcurrentDispatch = 8

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome struct {
	Token   string
	Receipt *notify.Receipt
	Err     error
}

// FanOut delivers one record to many tokens concurrently. A failed delivery
// never cancels its siblings.
type FanOut struct {
	dispatcher notify.PushDispatcher
	limit      int
	observer   Observer
	logger     zerolog.Logger
}

// NewFanOut creates a FanOut that runs at most limit deliveries at once.
func NewFanOut(dispatcher notify.PushDispatcher, limit int, observer Observer, logger zerolog.Logger) *FanOut {
	if limit <= 0 {
		limit = DefaultMaxConcurrentDispatch
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &FanOut{
		dispatcher: dispatcher,
		limit:      limit,
		observer:   observer,
		logger:     logger.With().Str("component", "FanOut").Logger(),
	}
}

// Send dispatches record to every token and returns one outcome per token, in
// token order.
func (f *FanOut) Send(ctx context.Context, tokens []string, record *notify.NotificationRecord) []DeliveryOutcome {
	outcomes := make([]DeliveryOutcome, len(tokens))
	if len(tokens) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(f.limit)
	for i, token := range tokens {
		g.Go(func() error {
			start := time.Now()
			receipt, err := f.dispatcher.Dispatch(ctx, token, record)
			outcomes[i] = DeliveryOutcome{Token: token, Receipt: receipt, Err: err}

			if err != nil {
				f.observer.Delivery(OutcomeFailed, time.Since(start))
				f.logFailure(record, token, err)
				return nil
			}
			f.observer.Delivery(OutcomeDelivered, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (f *FanOut) logFailure(record *notify.NotificationRecord, token string, err error) {
	event := f.logger.Error().
		Err(err).
		Str("notification_id", record.ID).
		Str("recipient_id", record.RecipientID).
		Str("token", token).
		Str("title", record.Title).
		Str("body", record.Body)

	var deliveryErr *notify.DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.StatusCode != 0 {
		event = event.Int("status_code", deliveryErr.StatusCode).Str("gateway_body", deliveryErr.GatewayBody)
	}
	event.Msg("Push delivery failed.")
}
