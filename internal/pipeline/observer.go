package pipeline

import (
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
)

// Outcome labels reported to an Observer.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeRetry     = "retry"
	OutcomeDropped   = "dropped"
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeDelivered = "delivered"
)

// Observer receives pipeline outcomes for metrics.
type Observer interface {
	Event(eventType notify.EventType, outcome string)
	Record(category notify.Category, outcome string)
	Delivery(outcome string, duration time.Duration)
}

// NopObserver discards all outcomes.
type NopObserver struct{}

func (NopObserver) Event(notify.EventType, string) {}
func (NopObserver) Record(notify.Category, string) {}
func (NopObserver) Delivery(string, time.Duration) {}
