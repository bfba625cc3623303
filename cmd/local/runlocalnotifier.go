// The local command is an entrypoint for running the notifier locally with
// in-memory components for development and testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/illmade-knight/go-activity-notifier/internal/app"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/dedup"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/metrics"
	"github.com/illmade-knight/go-activity-notifier/internal/test/fakes"
	"github.com/illmade-knight/go-activity-notifier/notifyservice"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// seedUser is the shape of one entry in the LOCAL_SEED_FILE user list.
type seedUser struct {
	ID             string            `json:"id"`
	DisplayName    string            `json:"displayName"`
	DeviceTokens   map[string]string `json:"deviceTokens"`
	FriendRequests struct {
		Received []string `json:"received"`
	} `json:"friendRequests"`
}

func loadSeed(path string) ([]notify.User, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed []seedUser
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	users := make([]notify.User, 0, len(seed))
	for _, s := range seed {
		users = append(users, notify.User{
			ID:                     s.ID,
			DisplayName:            s.DisplayName,
			DeviceTokens:           s.DeviceTokens,
			FriendRequestsReceived: s.FriendRequests.Received,
		})
	}
	return users, nil
}

// main wires up the in-memory dependencies and starts the service.
func main() {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	ctx := context.Background()

	// A missing .env is fine; the variables may come from the shell.
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("No .env file loaded.")
	}

	var users []notify.User
	if path := os.Getenv("LOCAL_SEED_FILE"); path != "" {
		seeded, err := loadSeed(path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("Failed to load seed users")
		}
		users = seeded
		logger.Info().Int("count", len(users)).Msg("Seeded local user store.")
	}

	consumer := fakes.NewInMemoryConsumer(100, logger)
	recorder := metrics.NewRecorder()
	deps := &notify.Dependencies{
		Users:         fakes.NewUserStore(users...),
		Notifications: fakes.NewNotificationStore(),
		Dispatcher:    fakes.NewDispatcher(logger),
		Validator:     notify.IsExpoPushToken,
	}

	service, err := notifyservice.New(
		&notify.Config{
			HTTPListenAddr:        ":8082",
			NumPipelineWorkers:    2,
			MaxConcurrentDispatch: 4,
			JWTSecret:             os.Getenv("EVENTS_JWT_SECRET"),
		},
		deps,
		notifyservice.Options{
			Consumer: consumer,
			Guard:    dedup.NewMemoryGuard(dedup.DefaultTTL),
			Observer: recorder,
			Metrics:  recorder.Handler(),
		},
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create local notifier service")
	}

	logger.Info().Msg("Local service configured with in-memory components.")
	app.Run(ctx, logger, service)
}
