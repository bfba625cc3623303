package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/internal/test/fakes"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) Claim(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockGuard) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type countingObserver struct {
	pipeline.NopObserver
	mu     sync.Mutex
	events map[string]int
}

func (o *countingObserver) Event(_ notify.EventType, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[outcome]++
}

type processorFixture struct {
	users      *fakes.UserStore
	store      *fakes.NotificationStore
	dispatcher *fakes.Dispatcher
	observer   *countingObserver
}

func newProcessor(t *testing.T, guard pipeline.Guard) (*pipeline.Processor, *processorFixture) {
	t.Helper()
	f := &processorFixture{
		users: fakes.NewUserStore(
			notify.User{ID: "U1", DisplayName: "Ann"},
			notify.User{ID: "U2", DisplayName: "Bo", DeviceTokens: map[string]string{"p": "ExponentPushToken[u2]"}},
		),
		store:      fakes.NewNotificationStore(),
		dispatcher: fakes.NewDispatcher(zerolog.Nop()),
		observer:   &countingObserver{events: make(map[string]int)},
	}
	handlers, err := pipeline.NewHandlers(&notify.Dependencies{
		Users:         f.users,
		Notifications: f.store,
		Dispatcher:    f.dispatcher,
		Validator:     notify.IsExpoPushToken,
	}, pipeline.HandlersConfig{}, zerolog.Nop())
	require.NoError(t, err)
	return pipeline.NewProcessor(handlers, guard, f.observer, zerolog.New(zerolog.NewTestWriter(t))), f
}

func messageCreated(t *testing.T, id, senderID, receiverID string) pipeline.Message {
	t.Helper()
	payload, err := pipeline.EncodeEvent(&notify.Event{
		ID:         id,
		Type:       notify.EventMessageCreated,
		DocumentID: id,
		OccurredAt: time.Now(),
		Message:    &notify.Message{ID: id, SenderID: senderID, ReceiverID: receiverID, Text: "hello"},
	})
	require.NoError(t, err)
	return pipeline.Message{ID: "transport-" + id, Payload: payload}
}

func TestProcessor_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("Handled event settles", func(t *testing.T) {
		processor, f := newProcessor(t, nil)

		err := processor.Process(ctx, messageCreated(t, "m1", "U1", "U2"))

		require.NoError(t, err)
		assert.Len(t, f.store.Records(), 1)
		assert.Equal(t, 1, f.observer.events[pipeline.OutcomeProcessed])
	})

	t.Run("Undecodable payload is dropped", func(t *testing.T) {
		processor, f := newProcessor(t, nil)

		err := processor.Process(ctx, pipeline.Message{ID: "junk", Payload: []byte("not json")})

		require.NoError(t, err)
		assert.Equal(t, 1, f.observer.events[pipeline.OutcomeDropped])
	})

	t.Run("Unknown sender is dropped", func(t *testing.T) {
		processor, f := newProcessor(t, nil)

		err := processor.Process(ctx, messageCreated(t, "m2", "ghost", "U2"))

		require.NoError(t, err)
		assert.Empty(t, f.store.Records())
		assert.Equal(t, 1, f.observer.events[pipeline.OutcomeDropped])
	})

	t.Run("Persistence failure asks for redelivery", func(t *testing.T) {
		processor, f := newProcessor(t, nil)
		f.store.Err = errors.New("firestore unavailable")

		err := processor.Process(ctx, messageCreated(t, "m3", "U1", "U2"))

		require.Error(t, err)
		assert.Empty(t, f.dispatcher.Deliveries())
		assert.Equal(t, 1, f.observer.events[pipeline.OutcomeRetry])
	})
}

func TestProcessor_Guard(t *testing.T) {
	ctx := context.Background()

	t.Run("Claimed key is processed once", func(t *testing.T) {
		guard := new(mockGuard)
		guard.On("Claim", mock.Anything, "transport-m1").Return(true, nil).Once()
		guard.On("Claim", mock.Anything, "transport-m1").Return(false, nil).Once()
		processor, f := newProcessor(t, guard)
		msg := messageCreated(t, "m1", "U1", "U2")

		require.NoError(t, processor.Process(ctx, msg))
		require.NoError(t, processor.Process(ctx, msg))

		guard.AssertExpectations(t)
		assert.Len(t, f.dispatcher.Deliveries(), 1)
		assert.Equal(t, 1, f.observer.events[pipeline.OutcomeSkipped])
	})

	t.Run("Failure releases the claim", func(t *testing.T) {
		guard := new(mockGuard)
		guard.On("Claim", mock.Anything, "transport-m2").Return(true, nil)
		guard.On("Release", mock.Anything, "transport-m2").Return(nil)
		processor, f := newProcessor(t, guard)
		f.store.Err = errors.New("write failed")

		err := processor.Process(ctx, messageCreated(t, "m2", "U1", "U2"))

		require.Error(t, err)
		guard.AssertExpectations(t)
	})

	t.Run("Guard outage does not block processing", func(t *testing.T) {
		guard := new(mockGuard)
		guard.On("Claim", mock.Anything, "transport-m3").Return(false, errors.New("redis down"))
		processor, f := newProcessor(t, guard)

		require.NoError(t, processor.Process(ctx, messageCreated(t, "m3", "U1", "U2")))

		assert.Len(t, f.store.Records(), 1)
		guard.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	})
}
