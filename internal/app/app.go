// Package app runs long-lived services until the process is signalled.
package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 15 * time.Second

// Service is a component with a blocking Start and a graceful Shutdown.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Run starts every service and blocks until SIGINT, SIGTERM, ctx
// cancellation or the failure of any service, then shuts them all down.
func Run(ctx context.Context, logger zerolog.Logger, services ...Service) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			if err := svc.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Service failed")
				stop()
			}
		}(svc)
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var shutdownWg sync.WaitGroup
	for _, svc := range services {
		shutdownWg.Add(1)
		go func(svc Service) {
			defer shutdownWg.Done()
			if err := svc.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Service shutdown failed")
			}
		}(svc)
	}
	shutdownWg.Wait()
	wg.Wait()
	logger.Info().Msg("All services stopped gracefully.")
}
