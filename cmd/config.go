package cmd

import (
	_ "embed" // Required for go:embed
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	notifykafka "github.com/illmade-knight/go-activity-notifier/internal/platform/kafka"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"gopkg.in/yaml.v3"
)

//go:embed prod/config.yaml
var ConfigYAML []byte

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlDedupConfig struct {
	Type  string          `yaml:"type"`
	Redis YamlRedisConfig `yaml:"redis"`
	TTL   string          `yaml:"ttl"`
}

type YamlKafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type YamlGatewayConfig struct {
	Type               string `yaml:"type"`
	ExpoURL            string `yaml:"expo_url"`
	FCMCredentialsFile string `yaml:"fcm_credentials_file"`
	RelayTopicID       string `yaml:"relay_topic_id"`
}

type YamlTelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID             string              `yaml:"project_id"`
	APIPort               string              `yaml:"api_port"`
	EventSource           string              `yaml:"event_source"`
	EventSubscriptionID   string              `yaml:"event_subscription_id"`
	EventTopicID          string              `yaml:"event_topic_id"`
	Kafka                 YamlKafkaConfig     `yaml:"kafka"`
	NumPipelineWorkers    int                 `yaml:"num_pipeline_workers"`
	MaxConcurrentDispatch int                 `yaml:"max_concurrent_dispatch"`
	Gateway               YamlGatewayConfig   `yaml:"gateway"`
	Dedup                 YamlDedupConfig     `yaml:"dedup"`
	Telemetry             YamlTelemetryConfig `yaml:"telemetry"`
}

// AppConfig is the validated service configuration plus the settings only the
// entrypoints need.
type AppConfig struct {
	notify.Config
	EventTopicID string
}

// Load parses the embedded config, applies environment overrides and
// validates the result.
func Load() (*AppConfig, error) {
	return LoadFrom(ConfigYAML, os.Getenv)
}

// LoadFrom is Load with an explicit document and environment lookup.
func LoadFrom(doc []byte, getenv func(string) string) (*AppConfig, error) {
	var yc YamlConfig
	if err := yaml.Unmarshal(doc, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	cfg := &AppConfig{
		Config: notify.Config{
			ProjectID:             yc.ProjectID,
			HTTPListenAddr:        ":" + yc.APIPort,
			EventSource:           yc.EventSource,
			EventSubscriptionID:   yc.EventSubscriptionID,
			KafkaBrokers:          yc.Kafka.Brokers,
			KafkaTopic:            yc.Kafka.Topic,
			KafkaGroupID:          yc.Kafka.GroupID,
			NumPipelineWorkers:    yc.NumPipelineWorkers,
			MaxConcurrentDispatch: yc.MaxConcurrentDispatch,
			Gateway:               yc.Gateway.Type,
			ExpoURL:               yc.Gateway.ExpoURL,
			FCMCredentialsFile:    yc.Gateway.FCMCredentialsFile,
			RelayTopicID:          yc.Gateway.RelayTopicID,
			DedupBackend:          yc.Dedup.Type,
			RedisAddr:             yc.Dedup.Redis.Addr,
			OTLPEndpoint:          yc.Telemetry.OTLPEndpoint,
		},
		EventTopicID: yc.EventTopicID,
	}
	if yc.Dedup.TTL != "" {
		ttl, err := time.ParseDuration(yc.Dedup.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid dedup ttl %q: %w", yc.Dedup.TTL, err)
		}
		cfg.DedupTTL = ttl
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig, getenv func(string) string) error {
	if v := getenv("GCP_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := getenv("PORT"); v != "" {
		cfg.HTTPListenAddr = ":" + v
	}
	if v := getenv("EVENT_SOURCE"); v != "" {
		cfg.EventSource = v
	}
	if v := getenv("PUSH_GATEWAY"); v != "" {
		cfg.Gateway = v
	}
	if v := getenv("EXPO_ACCESS_TOKEN"); v != "" {
		cfg.ExpoAccessToken = v
	}
	if v := getenv("FCM_CREDENTIALS_FILE"); v != "" {
		cfg.FCMCredentialsFile = v
	}
	if v := getenv("EVENTS_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := getenv("DEDUP_BACKEND"); v != "" {
		cfg.DedupBackend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = notifykafka.ParseBrokers(v)
	}
	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := getenv("NUM_PIPELINE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NUM_PIPELINE_WORKERS %q: %w", v, err)
		}
		cfg.NumPipelineWorkers = n
	}
	return nil
}

func validate(cfg *AppConfig) error {
	var errs []error
	switch cfg.EventSource {
	case "pubsub":
		if cfg.ProjectID == "" || cfg.EventSubscriptionID == "" {
			errs = append(errs, errors.New("pubsub event source requires project_id and event_subscription_id"))
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" || cfg.KafkaGroupID == "" {
			errs = append(errs, errors.New("kafka event source requires brokers, topic and group_id"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("unknown event_source %q", cfg.EventSource))
	}

	switch cfg.Gateway {
	case "expo", "fcm":
	case "relay":
		if cfg.RelayTopicID == "" {
			errs = append(errs, errors.New("relay gateway requires relay_topic_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gateway type %q", cfg.Gateway))
	}

	switch cfg.DedupBackend {
	case "memory", "":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, errors.New("redis dedup requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup type %q", cfg.DedupBackend))
	}

	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	return errors.Join(errs...)
}
