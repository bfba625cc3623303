package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/internal/test/fakes"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingService_AcksAndNacks(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	logger := zerolog.New(zerolog.NewTestWriter(t))

	processor, f := newProcessor(t, nil)
	f.users.Put(notify.User{ID: "U3", DisplayName: "Cy"})
	f.users.FailWith["U3"] = errors.New("backend unavailable")
	consumer := fakes.NewInMemoryConsumer(10, logger)
	service, err := pipeline.NewStreamingService(pipeline.ServiceConfig{NumWorkers: 2}, consumer, processor, logger)
	require.NoError(t, err)
	require.NoError(t, service.Start(ctx))

	// Act
	consumer.Publish("ok", messageCreated(t, "m1", "U1", "U2").Payload)
	consumer.Publish("junk", []byte("{"))
	consumer.Publish("retry", messageCreated(t, "m2", "U3", "U2").Payload)

	// Assert
	require.Eventually(t, func() bool {
		return len(consumer.Acked())+len(consumer.Nacked()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"ok", "junk"}, consumer.Acked())
	assert.Equal(t, []string{"retry"}, consumer.Nacked())
	assert.Len(t, f.store.Records(), 1)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
}

func TestNewStreamingService_Validation(t *testing.T) {
	processor, _ := newProcessor(t, nil)

	_, err := pipeline.NewStreamingService(pipeline.ServiceConfig{}, nil, processor, zerolog.Nop())
	assert.Error(t, err)

	_, err = pipeline.NewStreamingService(pipeline.ServiceConfig{}, fakes.NewInMemoryConsumer(1, zerolog.Nop()), nil, zerolog.Nop())
	assert.Error(t, err)
}
