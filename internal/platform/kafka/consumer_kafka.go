// Package kafka consumes change events from a Kafka topic, for deployments
// that stream document changes through Kafka instead of Pub/Sub.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 2 * time.Second
	commitTimeout       = 5 * time.Second
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig configures the Kafka consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxAttempts bounds local redelivery of a nacked message. After the
	// last attempt the offset is committed and the event is dropped.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Consumer reads a consumer-group topic. Nack redelivers the message locally
// after RetryBackoff. Offsets are committed per partition only up to the
// highest offset below which every fetched message has been settled, so a
// message waiting for redelivery is never committed past.
type Consumer struct {
	reader Reader
	output chan pipeline.Message
	cfg    ConsumerConfig
	logger zerolog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	closing bool
	retries sync.WaitGroup

	commitMu   sync.Mutex
	partitions map[int]*partitionOffsets
}

// partitionOffsets tracks fetched offsets of one partition in fetch order.
type partitionOffsets struct {
	inflight []int64
	settled  map[int64]kafka.Message
}

// NewConsumer creates a consumer backed by a kafka-go group reader.
func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka consumer requires brokers, a topic and a group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
	return NewConsumerWithReader(reader, cfg, logger), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader Reader, cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Consumer{
		reader: reader,
		output: make(chan pipeline.Message),
		cfg:    cfg,
		logger: logger.With().Str("component", "KafkaConsumer").Str("topic", cfg.Topic).Logger(),
		done:   make(chan struct{}),

		partitions: make(map[int]*partitionOffsets),
	}
}

// Messages returns the channel of fetched events.
func (c *Consumer) Messages() <-chan pipeline.Message {
	return c.output
}

// Start begins fetching in the background.
func (c *Consumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
	c.logger.Info().Strs("brokers", c.cfg.Brokers).Str("group", c.cfg.GroupID).Msg("Kafka consumer started.")
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close kafka reader.")
		}
	}()
	defer close(c.output)
	defer func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.retries.Wait()
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("Kafka consumer shutting down.")
				return
			}
			c.logger.Error().Err(err).Msg("Kafka fetch failed.")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		c.track(m)
		c.emit(ctx, m, 1)
	}
}

func (c *Consumer) track(m kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	p, ok := c.partitions[m.Partition]
	if !ok {
		p = &partitionOffsets{settled: make(map[int64]kafka.Message)}
		c.partitions[m.Partition] = p
	}
	p.inflight = append(p.inflight, m.Offset)
}

func (c *Consumer) emit(ctx context.Context, m kafka.Message, attempt int) {
	attrs := make(map[string]string, len(m.Headers)+1)
	for _, h := range m.Headers {
		attrs[h.Key] = string(h.Value)
	}
	if len(m.Key) > 0 {
		attrs["key"] = string(m.Key)
	}

	msg := pipeline.Message{
		ID:          MessageID(m),
		Payload:     m.Value,
		Attributes:  attrs,
		PublishTime: m.Time,
		AckFunc:     func() { c.commit(m) },
		NackFunc:    func() { c.redeliver(ctx, m, attempt) },
	}
	select {
	case c.output <- msg:
	case <-ctx.Done():
	}
}

// commit settles m and commits the contiguous settled prefix of its
// partition, if that prefix grew.
func (c *Consumer) commit(m kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	p, ok := c.partitions[m.Partition]
	if !ok {
		return
	}
	p.settled[m.Offset] = m

	var last *kafka.Message
	for len(p.inflight) > 0 {
		settled, done := p.settled[p.inflight[0]]
		if !done {
			break
		}
		delete(p.settled, p.inflight[0])
		p.inflight = p.inflight[1:]
		last = &settled
	}
	if last == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, *last); err != nil {
		c.logger.Error().Err(err).Str("message_id", MessageID(*last)).Msg("Kafka commit failed.")
	}
}

func (c *Consumer) redeliver(ctx context.Context, m kafka.Message, attempt int) {
	if attempt >= c.cfg.MaxAttempts {
		c.logger.Error().Str("message_id", MessageID(m)).Int("attempts", attempt).Msg("Giving up on change event; committing offset.")
		c.commit(m)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.retries.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.retries.Done()
		select {
		case <-time.After(c.cfg.RetryBackoff):
			c.emit(ctx, m, attempt+1)
		case <-ctx.Done():
		}
	}()
}

// Stop cancels fetching and waits for the reader to close.
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

// MessageID identifies a Kafka record by topic, partition and offset.
func MessageID(m kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
