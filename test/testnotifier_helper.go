// Package test holds helpers that start a complete notifier for end-to-end
// tests, with an in-memory Pub/Sub server standing in for the event bus.
package test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/dedup"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/metrics"
	psub "github.com/illmade-knight/go-activity-notifier/internal/platform/pubsub"
	"github.com/illmade-knight/go-activity-notifier/notifyservice"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const projectID = "test-project"

// JWTSecret protects the HTTP event endpoints of every test service.
const JWTSecret = "test-secret"

// TestService is a running notifier together with the topic feeding it.
type TestService struct {
	BaseURL  string
	Events   *psub.Producer
	Recorder *metrics.Recorder
	Service  *notifyservice.Wrapper
}

// NewPubsubClient starts an in-memory Pub/Sub server and returns a client
// connected to it.
func NewPubsubClient(t *testing.T, ctx context.Context) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// NewTestService creates and starts a fully-functional notifier consuming a
// fresh Pub/Sub subscription.
func NewTestService(t *testing.T, ctx context.Context, psClient *pubsub.Client, deps *notify.Dependencies) *TestService {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	runID := uuid.NewString()

	// 1. Create Pub/Sub resources for this specific test run.
	topicID := "events-topic-" + runID
	subID := "events-sub-" + runID
	createPubsubResources(t, ctx, psClient, topicID, subID)

	// 2. Wrap the subscription and topic.
	consumer, err := psub.NewConsumer(psClient.Subscriber(subID), logger)
	require.NoError(t, err)
	publisher := psClient.Publisher(topicID)
	t.Cleanup(publisher.Stop)

	// 3. Assemble the service.
	recorder := metrics.NewRecorder()
	service, err := notifyservice.New(
		&notify.Config{
			HTTPListenAddr:        "127.0.0.1:0",
			NumPipelineWorkers:    2,
			MaxConcurrentDispatch: 4,
			JWTSecret:             JWTSecret,
		},
		deps,
		notifyservice.Options{
			Consumer: consumer,
			Guard:    dedup.NewMemoryGuard(time.Hour),
			Observer: recorder,
			Metrics:  recorder.Handler(),
		},
		logger,
	)
	require.NoError(t, err)

	serviceCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := service.Start(serviceCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("Notifier service returned an error: %v", err)
		}
	}()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = service.Shutdown(shutdownCtx)
		cancel()
	})

	baseURL := waitReady(t, service)
	return &TestService{
		BaseURL:  baseURL,
		Events:   psub.NewProducer(publisher),
		Recorder: recorder,
		Service:  service,
	}
}

func waitReady(t *testing.T, service *notifyservice.Wrapper) string {
	t.Helper()
	var baseURL string
	require.Eventually(t, func() bool {
		baseURL = "http://" + service.Addr()
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 25*time.Millisecond, "service never became ready")
	return baseURL
}

// createPubsubResources is a private helper to provision ephemeral pub/sub resources.
func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, topicID, subID string) {
	t.Helper()
	topicAdminClient := client.TopicAdminClient
	subAdminClient := client.SubscriptionAdminClient

	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := topicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = topicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	_, err = subAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = subAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
