// The prod command runs the notifier against Firestore, Pub/Sub or Kafka and
// a real push gateway.
package main

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-activity-notifier/cmd"
	"github.com/illmade-knight/go-activity-notifier/internal/app"
	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/dedup"
	notifykafka "github.com/illmade-knight/go-activity-notifier/internal/platform/kafka"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/metrics"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/persistence"
	psub "github.com/illmade-knight/go-activity-notifier/internal/platform/pubsub"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/push"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/telemetry"
	"github.com/illmade-knight/go-activity-notifier/notifyservice"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "activity-notifier").Logger()
	ctx := context.Background()

	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().
		Str("project_id", cfg.ProjectID).
		Str("event_source", cfg.EventSource).
		Str("gateway", cfg.Gateway).
		Msg("Configuration loaded.")

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "activity-notifier",
		Environment: os.Getenv("ENV"),
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// --- Client Initialization ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Firestore client")
	}
	defer func() {
		_ = fsClient.Close()
	}()

	var psClient *pubsub.Client
	if cfg.EventSource == "pubsub" || cfg.Gateway == "relay" {
		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client")
		}
		defer func() {
			_ = psClient.Close()
		}()
	}

	// --- Dependency Assembly ---
	store, err := persistence.NewFirestoreStore(fsClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Firestore store")
	}

	dispatcher, validator, err := newDispatcher(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create push dispatcher")
	}

	consumer, err := newConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create event consumer")
	}

	guard, closeGuard, err := newGuard(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dedup guard")
	}
	defer closeGuard()

	recorder := metrics.NewRecorder()
	deps := &notify.Dependencies{
		Users:         store,
		Notifications: store,
		Dispatcher:    dispatcher,
		Validator:     validator,
	}

	// --- Service Assembly ---
	service, err := notifyservice.New(&cfg.Config, deps, notifyservice.Options{
		Consumer: consumer,
		Guard:    guard,
		Observer: recorder,
		Metrics:  recorder.Handler(),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create notifier service")
	}

	// --- Run Application ---
	app.Run(ctx, logger, service)
}

func newDispatcher(ctx context.Context, cfg *cmd.AppConfig, psClient *pubsub.Client, logger zerolog.Logger) (notify.PushDispatcher, notify.TokenValidator, error) {
	switch cfg.Gateway {
	case "expo":
		return push.NewExpoDispatcher(push.ExpoConfig{URL: cfg.ExpoURL, AccessToken: cfg.ExpoAccessToken}, nil, logger), notify.IsExpoPushToken, nil
	case "fcm":
		dispatcher, err := push.NewFCMDispatcher(ctx, cfg.ProjectID, cfg.FCMCredentialsFile, logger)
		if err != nil {
			return nil, nil, err
		}
		// FCM registration tokens carry no recognisable prefix.
		return dispatcher, notify.PrefixValidator(""), nil
	case "relay":
		if err := ensureTopic(ctx, psClient, cfg.ProjectID, cfg.RelayTopicID, logger); err != nil {
			return nil, nil, err
		}
		dispatcher, err := push.NewRelayDispatcher(psub.NewProducer(psClient.Publisher(cfg.RelayTopicID)), logger)
		if err != nil {
			return nil, nil, err
		}
		return dispatcher, notify.IsExpoPushToken, nil
	default:
		return nil, nil, fmt.Errorf("unknown gateway %q", cfg.Gateway)
	}
}

func newConsumer(ctx context.Context, cfg *cmd.AppConfig, psClient *pubsub.Client, logger zerolog.Logger) (pipeline.MessageConsumer, error) {
	switch cfg.EventSource {
	case "pubsub":
		if err := ensureSubscription(ctx, psClient, cfg, logger); err != nil {
			return nil, err
		}
		return psub.NewConsumer(psClient.Subscriber(cfg.EventSubscriptionID), logger)
	case "kafka":
		return notifykafka.NewConsumer(notifykafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, logger)
	default:
		logger.Info().Msg("No event consumer configured; events arrive over HTTP only.")
		return nil, nil
	}
}

func newGuard(ctx context.Context, cfg *cmd.AppConfig, logger zerolog.Logger) (pipeline.Guard, func(), error) {
	if cfg.DedupBackend != "redis" {
		return dedup.NewMemoryGuard(cfg.DedupTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis not reachable at startup; claims will fail open until it is.")
	}
	guard, err := dedup.NewRedisGuard(client, cfg.DedupTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return guard, func() { _ = client.Close() }, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, projectID, topicID string, logger zerolog.Logger) error {
	topicPath := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicPath})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create topic %s: %w", topicPath, err)
	}
	logger.Info().Str("topic", topicPath).Msg("Topic ready.")
	return nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, cfg *cmd.AppConfig, logger zerolog.Logger) error {
	subAdminClient := client.SubscriptionAdminClient
	subPath := fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.EventSubscriptionID)
	topicPath := fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.EventTopicID)

	_, err := subAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: subPath})
	if err == nil {
		logger.Info().Str("subscription", subPath).Msg("Event subscription already exists.")
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to get event subscription: %w", err)
	}

	if err := ensureTopic(ctx, client, cfg.ProjectID, cfg.EventTopicID, logger); err != nil {
		return err
	}
	logger.Info().Str("subscription", subPath).Msg("Event subscription not found, creating it...")
	_, err = subAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               subPath,
		Topic:              topicPath,
		AckDeadlineSeconds: 60,
		RetryPolicy:        &pubsubpb.RetryPolicy{},
	})
	if err != nil {
		return fmt.Errorf("failed to create event subscription: %w", err)
	}
	return nil
}
