// Package fakes provides in-memory test doubles for the service's
// dependencies. They are used in the cmd/local entrypoint and in tests.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
)

// --- Consumer ---

type InMemoryConsumer struct {
	outputChan chan pipeline.Message
	logger     zerolog.Logger
	stopOnce   sync.Once
	doneChan   chan struct{}
	// sendMu keeps Stop from closing outputChan under an in-flight Publish.
	sendMu     sync.RWMutex

	mu     sync.Mutex
	acked  []string
	nacked []string
}

func NewInMemoryConsumer(bufferSize int, logger zerolog.Logger) *InMemoryConsumer {
	return &InMemoryConsumer{
		outputChan: make(chan pipeline.Message, bufferSize),
		logger:     logger.With().Str("component", "InMemoryConsumer").Logger(),
		doneChan:   make(chan struct{}),
	}
}

// Publish queues a payload. Ack and Nack outcomes are recorded per message id.
func (c *InMemoryConsumer) Publish(id string, payload []byte) {
	if id == "" {
		id = uuid.NewString()
	}
	msg := pipeline.Message{
		ID:      id,
		Payload: payload,
		AckFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.acked = append(c.acked, id)
		},
		NackFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.nacked = append(c.nacked, id)
		},
	}
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	select {
	case <-c.doneChan:
		return
	default:
	}
	select {
	case c.outputChan <- msg:
	case <-c.doneChan:
	}
}

func (c *InMemoryConsumer) Acked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.acked...)
}

func (c *InMemoryConsumer) Nacked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.nacked...)
}

func (c *InMemoryConsumer) Messages() <-chan pipeline.Message { return c.outputChan }
func (c *InMemoryConsumer) Start(ctx context.Context) error   { return nil }
func (c *InMemoryConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.doneChan)
		c.sendMu.Lock()
		close(c.outputChan)
		c.sendMu.Unlock()
	})
	return nil
}
func (c *InMemoryConsumer) Done() <-chan struct{} { return c.doneChan }

// --- Users ---

type UserStore struct {
	mu    sync.RWMutex
	users map[string]notify.User
	// FailWith, when set, is returned for every fetch of the listed ids.
	FailWith map[string]error
}

func NewUserStore(users ...notify.User) *UserStore {
	s := &UserStore{users: make(map[string]notify.User), FailWith: make(map[string]error)}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

func (s *UserStore) Put(u notify.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *UserStore) FetchUser(_ context.Context, userID string) (*notify.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.FailWith[userID]; ok {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notify.ErrUserNotFound, userID)
	}
	return &u, nil
}

// --- Notifications ---

type NotificationStore struct {
	mu      sync.Mutex
	records []*notify.NotificationRecord
	byID    map[string]struct{}
	// Err, when set, fails every write.
	Err error
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{byID: make(map[string]struct{})}
}

func (s *NotificationStore) CreateNotification(_ context.Context, record *notify.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.byID[record.ID]; ok {
		return notify.ErrDuplicateNotification
	}
	s.byID[record.ID] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

func (s *NotificationStore) Records() []*notify.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*notify.NotificationRecord(nil), s.records...)
}

// --- Push ---

// Delivery is one call made to the fake Dispatcher.
type Delivery struct {
	Token  string
	Record *notify.NotificationRecord
}

type Dispatcher struct {
	logger zerolog.Logger

	mu         sync.Mutex
	deliveries []Delivery
	// Failing lists tokens whose delivery fails.
	Failing map[string]bool
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger, Failing: make(map[string]bool)}
}

func (d *Dispatcher) Dispatch(_ context.Context, token string, record *notify.NotificationRecord) (*notify.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, Delivery{Token: token, Record: record})
	if d.Failing[token] {
		return nil, &notify.DeliveryError{Token: token, Title: record.Title, Body: record.Body, Cause: errors.New("fake gateway failure")}
	}
	d.logger.Info().Str("token", token).Str("title", record.Title).Msg("[FAKES-DISPATCHER] Dispatch called.")
	return &notify.Receipt{Token: token, ID: uuid.NewString(), Status: "ok"}, nil
}

func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Delivery(nil), d.deliveries...)
}
