// Package api exposes the notifier over HTTP: Pub/Sub push delivery, direct
// event submission, health probes and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
)

const maxEventBody = 1 << 20

// EventProcessor handles change events. *pipeline.Processor satisfies it.
type EventProcessor interface {
	Process(ctx context.Context, msg pipeline.Message) error
	ProcessEvent(ctx context.Context, key string, event *notify.Event) error
}

// API holds the dependencies for the HTTP handlers.
type API struct {
	processor EventProcessor
	jwtSecret string
	metrics   http.Handler
	logger    zerolog.Logger
	ready     atomic.Bool
}

// NewAPI creates the HTTP handlers. An empty jwtSecret leaves the event
// endpoints unauthenticated; a nil metrics handler disables /metrics.
func NewAPI(processor EventProcessor, jwtSecret string, metrics http.Handler, logger zerolog.Logger) *API {
	return &API{
		processor: processor,
		jwtSecret: jwtSecret,
		metrics:   metrics,
		logger:    logger.With().Str("component", "API").Logger(),
	}
}

// SetReady flips the readiness probe.
func (a *API) SetReady(ready bool) {
	a.ready.Store(ready)
}

// Routes builds the service mux.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	var push http.Handler = http.HandlerFunc(a.PushHandler)
	var events http.Handler = http.HandlerFunc(a.EventHandler)
	if a.jwtSecret != "" {
		push = a.JwtAuthMiddleware(push)
		events = a.JwtAuthMiddleware(events)
	}
	mux.Handle("POST /events/push", push)
	mux.Handle("POST /events", events)
	mux.HandleFunc("GET /healthz", a.HealthzHandler)
	mux.HandleFunc("GET /readyz", a.ReadyzHandler)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	return a.RequestLogger(mux)
}

// pushEnvelope is the body Pub/Sub push subscriptions POST.
type pushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler processes one Pub/Sub push delivery. A 2xx acknowledges the
// message; a 500 makes Pub/Sub redeliver it.
func (a *API) PushHandler(w http.ResponseWriter, r *http.Request) {
	var envelope pushEnvelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&envelope); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid push envelope: "+err.Error())
		return
	}
	if len(envelope.Message.Data) == 0 {
		writeJSONError(w, http.StatusBadRequest, "Push envelope has no message data")
		return
	}

	msg := pipeline.Message{
		ID:          envelope.Message.MessageID,
		Payload:     envelope.Message.Data,
		Attributes:  envelope.Message.Attributes,
		PublishTime: envelope.Message.PublishTime,
	}
	if err := a.processor.Process(r.Context(), msg); err != nil {
		a.logger.Error().Err(err).Str("pubsub_msg_id", msg.ID).Str("subscription", envelope.Subscription).Msg("Push delivery failed; Pub/Sub will redeliver.")
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventHandler accepts a raw change event. Unlike the push endpoint, a
// payload that cannot be decoded is rejected with 400.
func (a *API) EventHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Cannot read request body")
		return
	}

	msgID := r.Header.Get("X-Event-ID")
	if msgID == "" {
		msgID = uuid.NewString()
	}
	event, err := pipeline.EventTransformer(r.Context(), &pipeline.Message{ID: msgID, Payload: body, PublishTime: time.Now().UTC()})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if caller, ok := GetUserIDFromContext(r.Context()); ok {
		a.logger.Debug().Str("caller", caller).Str("event_id", event.ID).Msg("Event submitted.")
	}
	if err := a.processor.ProcessEvent(r.Context(), event.ID, event); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, notify.ErrInvalidPayload) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, "Event could not be processed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthzHandler reports liveness.
func (a *API) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyzHandler reports whether the service has finished starting.
func (a *API) ReadyzHandler(w http.ResponseWriter, _ *http.Request) {
	if !a.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
