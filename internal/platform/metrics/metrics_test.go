package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/metrics"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	// Arrange
	recorder := metrics.NewRecorder()
	var observer pipeline.Observer = recorder

	// Act
	observer.Event(notify.EventMessageCreated, pipeline.OutcomeProcessed)
	observer.Event(notify.EventMessageCreated, pipeline.OutcomeProcessed)
	observer.Record(notify.CategoryMessage, pipeline.OutcomeCreated)
	observer.Delivery(pipeline.OutcomeFailed, 20*time.Millisecond)

	// Assert
	count, err := testutil.GatherAndCount(recorder.Registry(),
		"notifier_events_total", "notifier_records_total", "notifier_deliveries_total", "notifier_delivery_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `notifier_events_total{outcome="processed",type="message.created"} 2`)
	assert.Contains(t, string(body), `notifier_deliveries_total{outcome="failed"} 1`)
}
