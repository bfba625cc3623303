// Package metrics exports pipeline outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements pipeline.Observer.
type Recorder struct {
	registry   *prometheus.Registry
	events     *prometheus.CounterVec
	records    *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	latency    prometheus.Histogram
}

// NewRecorder registers the notifier metrics, plus the Go and process
// collectors, on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_events_total",
			Help: "Change events handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_records_total",
			Help: "Notification record writes, by category and outcome.",
		}, []string{"category", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Push dispatches to the gateway, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifier_delivery_duration_seconds",
			Help:    "Latency of a single push dispatch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.registry.MustRegister(
		r.events,
		r.records,
		r.deliveries,
		r.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Event(eventType notify.EventType, outcome string) {
	r.events.WithLabelValues(string(eventType), outcome).Inc()
}

func (r *Recorder) Record(category notify.Category, outcome string) {
	r.records.WithLabelValues(string(category), outcome).Inc()
}

func (r *Recorder) Delivery(outcome string, duration time.Duration) {
	r.deliveries.WithLabelValues(outcome).Inc()
	r.latency.Observe(duration.Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
