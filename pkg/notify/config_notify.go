package notify

import "time"

// Config holds all necessary configuration for the notifier service.
type Config struct {
	ProjectID      string
	HTTPListenAddr string

	// EventSource selects the change-event ingress: "pubsub", "kafka" or "none"
	// (HTTP push endpoint only).
	EventSource         string
	EventSubscriptionID string
	KafkaBrokers        []string
	KafkaTopic          string
	KafkaGroupID        string

	NumPipelineWorkers int
	// MaxConcurrentDispatch bounds the in-flight deliveries for one recipient.
	MaxConcurrentDispatch int

	// Gateway selects the push dispatcher: "expo", "fcm" or "relay".
	Gateway            string
	ExpoURL            string
	ExpoAccessToken    string
	FCMCredentialsFile string
	RelayTopicID       string

	DedupBackend string
	RedisAddr    string
	DedupTTL     time.Duration

	// JWTSecret protects the HTTP event endpoints. Empty disables auth.
	JWTSecret string

	OTLPEndpoint string
}

// Dependencies holds all the external services the notifier needs to operate.
type Dependencies struct {
	Users         UserFetcher
	Notifications NotificationStore
	Dispatcher    PushDispatcher
	Validator     TokenValidator
}
