package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	ps "github.com/illmade-knight/go-activity-notifier/internal/platform/pubsub"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/push"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestRelayDispatcher_PublishesRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	// Arrange: an in-memory Pub/Sub server with a relay topic
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	const projectID = "test-project"
	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topicName := fmt.Sprintf("projects/%s/topics/push-relay", projectID)
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)

	publisher := client.Publisher("push-relay")
	t.Cleanup(publisher.Stop)
	dispatcher, err := push.NewRelayDispatcher(ps.NewProducer(publisher), zerolog.Nop())
	require.NoError(t, err)

	// Act
	receipt, err := dispatcher.Dispatch(ctx, "ExponentPushToken[abc]", testRecord())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "queued", receipt.Status)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, receipt.ID, msgs[0].ID)
	assert.Equal(t, "message", msgs[0].Attributes["category"])
	assert.Equal(t, "U2", msgs[0].Attributes["recipientId"])

	var req push.RelayRequest
	require.NoError(t, json.Unmarshal(msgs[0].Data, &req))
	assert.Equal(t, "ExponentPushToken[abc]", req.Token)
	assert.Equal(t, "n-1", req.NotificationID)
	assert.Equal(t, "Ann: hello", req.Body)
	assert.Equal(t, "m1", req.Data["messageId"])
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, []byte, map[string]string) (string, error) {
	return "", errors.New("topic not found")
}

func TestRelayDispatcher_PublishFailure(t *testing.T) {
	dispatcher, err := push.NewRelayDispatcher(failingPublisher{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = dispatcher.Dispatch(context.Background(), "ExponentPushToken[abc]", testRecord())

	require.ErrorIs(t, err, notify.ErrDeliveryFailed)
}
