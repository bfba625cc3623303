// Package notifyservice assembles the notifier: the HTTP surface and, when an
// event consumer is supplied, the streaming pipeline.
package notifyservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-activity-notifier/internal/api"
	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options carries the optional collaborators of the service.
type Options struct {
	// Consumer feeds the streaming pipeline. Nil means events arrive only
	// over HTTP.
	Consumer pipeline.MessageConsumer
	Guard    pipeline.Guard
	Observer pipeline.Observer
	Metrics  http.Handler
}

// Wrapper runs the HTTP server and the streaming pipeline.
type Wrapper struct {
	server            *http.Server
	processingService *pipeline.StreamingService
	processor         *pipeline.Processor
	apiHandler        *api.API
	logger            zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New wires up the entire notifier.
func New(cfg *notify.Config, deps *notify.Dependencies, opts Options, logger zerolog.Logger) (*Wrapper, error) {
	handlers, err := pipeline.NewHandlers(deps, pipeline.HandlersConfig{
		MaxConcurrentDispatch: cfg.MaxConcurrentDispatch,
		Observer:              opts.Observer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}
	processor := pipeline.NewProcessor(handlers, opts.Guard, opts.Observer, logger)

	var processingService *pipeline.StreamingService
	if opts.Consumer != nil {
		processingService, err = pipeline.NewStreamingService(
			pipeline.ServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			opts.Consumer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	apiHandler := api.NewAPI(processor, cfg.JWTSecret, opts.Metrics, logger)
	server := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           otelhttp.NewHandler(apiHandler.Routes(), "notifier.http"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	return &Wrapper{
		server:            server,
		processingService: processingService,
		processor:         processor,
		apiHandler:        apiHandler,
		logger:            logger.With().Str("component", "NotifyService").Logger(),
	}, nil
}

// Handler returns the HTTP handler, for tests that serve it themselves.
func (w *Wrapper) Handler() http.Handler {
	return w.server.Handler
}

// Processor exposes the event processor.
func (w *Wrapper) Processor() *pipeline.Processor {
	return w.processor
}

// Addr returns the bound listen address once Start has opened it.
func (w *Wrapper) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return w.server.Addr
	}
	return w.listener.Addr().String()
}

// Start runs the pipeline and then serves HTTP until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.processingService != nil {
		w.logger.Info().Msg("Core processing pipeline starting...")
		if err := w.processingService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}

	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.server.Addr, err)
	}
	w.mu.Lock()
	w.listener = listener
	w.mu.Unlock()

	w.apiHandler.SetReady(true)
	w.logger.Info().Str("address", listener.Addr().String()).Msg("Service is now ready.")
	return w.server.Serve(listener)
}

// Shutdown stops accepting requests, then drains the pipeline.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down service components...")
	w.apiHandler.SetReady(false)

	var errs []error
	if err := w.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error().Err(err).Msg("HTTP server shutdown failed.")
		errs = append(errs, err)
	}
	if w.processingService != nil {
		if err := w.processingService.Stop(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Processing service shutdown failed.")
			errs = append(errs, err)
		}
	}

	w.logger.Info().Msg("All components shut down.")
	return errors.Join(errs...)
}
