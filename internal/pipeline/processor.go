package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Guard claims transport message ids so a redelivered message is processed
// once.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Processor routes change events to the matching handler and decides whether
// the transport should redeliver them.
type Processor struct {
	handlers *Handlers
	guard    Guard
	observer Observer
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewProcessor creates a processor. guard and observer may be nil.
func NewProcessor(handlers *Handlers, guard Guard, observer Observer, logger zerolog.Logger) *Processor {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Processor{
		handlers: handlers,
		guard:    guard,
		observer: observer,
		tracer:   otel.Tracer("github.com/illmade-knight/go-activity-notifier/internal/pipeline"),
		logger:   logger.With().Str("component", "Processor").Logger(),
	}
}

// Process decodes and handles one transport message. A nil result means the
// message is settled; an error asks for redelivery.
func (p *Processor) Process(ctx context.Context, msg Message) error {
	event, err := EventTransformer(ctx, &msg)
	if err != nil {
		p.observer.Event("unknown", OutcomeDropped)
		p.logger.Warn().Err(err).Str("pubsub_msg_id", msg.ID).Msg("Dropping undecodable change event.")
		return nil
	}
	return p.ProcessEvent(ctx, msg.ID, event)
}

// ProcessEvent handles a decoded event. key identifies the delivery for the
// dedup guard and may be empty.
func (p *Processor) ProcessEvent(ctx context.Context, key string, event *notify.Event) error {
	ctx, span := p.tracer.Start(ctx, "notifier.process_event", trace.WithAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.id", event.ID),
	))
	defer span.End()

	logger := p.logger.With().Str("event_type", string(event.Type)).Str("event_id", event.ID).Logger()

	if p.guard != nil && key != "" {
		claimed, err := p.guard.Claim(ctx, key)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Dedup guard unavailable; processing without it.")
		case !claimed:
			p.observer.Event(event.Type, OutcomeSkipped)
			logger.Info().Msg("Event already processed; skipping redelivery.")
			return nil
		}
	}

	err := p.dispatch(ctx, event)
	switch {
	case err == nil:
		p.observer.Event(event.Type, OutcomeProcessed)
		return nil
	case errors.Is(err, notify.ErrInvalidPayload), errors.Is(err, notify.ErrSenderNotFound):
		p.observer.Event(event.Type, OutcomeDropped)
		logger.Warn().Err(err).Msg("Dropping change event.")
		return nil
	default:
		p.observer.Event(event.Type, OutcomeRetry)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Change event failed; requesting redelivery.")
		if p.guard != nil && key != "" {
			if relErr := p.guard.Release(ctx, key); relErr != nil {
				logger.Warn().Err(relErr).Msg("Failed to release dedup claim.")
			}
		}
		return err
	}
}

func (p *Processor) dispatch(ctx context.Context, event *notify.Event) error {
	switch event.Type {
	case notify.EventUserUpdated:
		return p.handlers.HandleUserUpdated(ctx, event)
	case notify.EventMessageCreated:
		return p.handlers.HandleMessageCreated(ctx, event)
	case notify.EventActivityCreated:
		return p.handlers.HandleActivityCreated(ctx, event)
	default:
		return fmt.Errorf("%w: unknown event type %q", notify.ErrInvalidPayload, event.Type)
	}
}
