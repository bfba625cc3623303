package pubsub

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/rs/zerolog"
)

// subscriptionClient is the part of pubsub.Subscriber the consumer uses.
type subscriptionClient interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer streams change events from a Pub/Sub subscription. Each
// pipeline.Message settles its Pub/Sub message through Ack and Nack.
type Consumer struct {
	sub    subscriptionClient
	output chan pipeline.Message
	logger zerolog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewConsumer wraps a subscriber, typically client.Subscriber(subscriptionID).
func NewConsumer(sub subscriptionClient, logger zerolog.Logger) (*Consumer, error) {
	if sub == nil {
		return nil, errors.New("subscriber cannot be nil")
	}
	return &Consumer{
		sub:    sub,
		output: make(chan pipeline.Message),
		logger: logger.With().Str("component", "PubsubConsumer").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Messages returns the channel of received events. It is closed once the
// subscription stops receiving.
func (c *Consumer) Messages() <-chan pipeline.Message {
	return c.output
}

// Start begins receiving in the background.
func (c *Consumer) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.done)
		defer close(c.output)

		err := c.sub.Receive(receiveCtx, func(ctx context.Context, m *pubsub.Message) {
			msg := pipeline.Message{
				ID:          m.ID,
				Payload:     m.Data,
				Attributes:  m.Attributes,
				PublishTime: m.PublishTime,
				AckFunc:     m.Ack,
				NackFunc:    m.Nack,
			}
			select {
			case c.output <- msg:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub receive stopped with error.")
			return
		}
		c.logger.Info().Msg("Pub/Sub receive stopped.")
	}()

	c.logger.Info().Msg("Pub/Sub consumer started.")
	return nil
}

// Stop cancels receiving and waits until the subscription has shut down.
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	if c.cancel == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed after the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}
