package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ServiceConfig holds all the necessary configuration for the pipeline service.
type ServiceConfig struct {
	NumWorkers int
}

// StreamingService pulls change events from a consumer and processes them on a
// fixed pool of workers.
type StreamingService struct {
	consumer   MessageConsumer
	processor  *Processor
	numWorkers int
	logger     zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewStreamingService assembles the processing pipeline.
func NewStreamingService(cfg ServiceConfig, consumer MessageConsumer, processor *Processor, logger zerolog.Logger) (*StreamingService, error) {
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &StreamingService{
		consumer:   consumer,
		processor:  processor,
		numWorkers: numWorkers,
		logger:     logger.With().Str("component", "StreamingService").Logger(),
	}, nil
}

// Start starts the consumer and the workers. Workers keep running until the
// consumer closes its message channel.
func (s *StreamingService) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	// Workers outlive the start context so in-flight events can finish during
	// shutdown.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(workCtx, i)
	}
	s.logger.Info().Int("workers", s.numWorkers).Msg("Streaming service started.")
	return nil
}

func (s *StreamingService) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for msg := range s.consumer.Messages() {
		if err := s.processor.Process(ctx, msg); err != nil {
			msg.Nack()
			continue
		}
		msg.Ack()
	}
	s.logger.Debug().Int("worker", id).Msg("Worker stopped.")
}

// Stop stops the consumer and waits for in-flight events. If ctx expires
// first, in-flight work is cancelled.
func (s *StreamingService) Stop(ctx context.Context) error {
	stopErr := s.consumer.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if s.cancel != nil {
			s.cancel()
		}
		<-done
		return fmt.Errorf("timed out waiting for workers: %w", ctx.Err())
	}
	if s.cancel != nil {
		s.cancel()
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop consumer: %w", stopErr)
	}
	return nil
}
