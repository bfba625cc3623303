//go:build integration

package e2e_test

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/illmade-knight/go-activity-notifier/internal/pipeline"
	"github.com/illmade-knight/go-activity-notifier/internal/test/fakes"
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/illmade-knight/go-activity-notifier/test"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

type world struct {
	users      *fakes.UserStore
	store      *fakes.NotificationStore
	dispatcher *fakes.Dispatcher
	svc        *test.TestService
}

func newWorld(t *testing.T, ctx context.Context) *world {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	users := fakes.NewUserStore(
		notify.User{
			ID:          "U1",
			DisplayName: "Ann",
			DeviceTokens: map[string]string{
				"phone":  "ExponentPushToken[u1-phone]",
				"tablet": "ExponentPushToken[u1-tablet]",
				"legacy": "abc",
			},
		},
		notify.User{ID: "U2", DisplayName: "Bo", DeviceTokens: map[string]string{"p": "ExponentPushToken[u2]"}},
		notify.User{ID: "U3", DisplayName: "Cy", DeviceTokens: map[string]string{"p": "ExponentPushToken[u3]"}},
	)
	store := fakes.NewNotificationStore()
	dispatcher := fakes.NewDispatcher(logger)

	psClient := test.NewPubsubClient(t, ctx)
	svc := test.NewTestService(t, ctx, psClient, &notify.Dependencies{
		Users:         users,
		Notifications: store,
		Dispatcher:    dispatcher,
		Validator:     notify.IsExpoPushToken,
	})
	return &world{users: users, store: store, dispatcher: dispatcher, svc: svc}
}

func (w *world) publish(t *testing.T, ctx context.Context, event *notify.Event) {
	t.Helper()
	payload, err := pipeline.EncodeEvent(event)
	require.NoError(t, err)
	_, err = w.svc.Events.Publish(ctx, payload, map[string]string{"type": string(event.Type)})
	require.NoError(t, err)
}

func (w *world) recordsFor(recipient string) []*notify.NotificationRecord {
	var out []*notify.NotificationRecord
	for _, r := range w.store.Records() {
		if r.RecipientID == recipient {
			out = append(out, r)
		}
	}
	return out
}

func tokensDelivered(deliveries []fakes.Delivery) []string {
	tokens := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		tokens = append(tokens, d.Token)
	}
	return tokens
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "trigger",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(test.JWTSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

// --- Main Tests ---

func TestFriendRequestFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	w := newWorld(t, ctx)

	// Arrange: U2 shows up in U1's received list.
	event := &notify.Event{
		ID:     "evt-friend-1",
		Type:   notify.EventUserUpdated,
		Before: &notify.User{ID: "U1"},
		After:  &notify.User{ID: "U1", FriendRequestsReceived: []string{"U2"}},
	}

	// Act: publish twice, as an at-least-once bus may.
	w.publish(t, ctx, event)
	w.publish(t, ctx, event)

	// Assert
	require.Eventually(t, func() bool {
		return len(w.dispatcher.Deliveries()) >= 2
	}, 10*time.Second, 50*time.Millisecond)

	records := w.recordsFor("U1")
	require.Len(t, records, 1)
	assert.Equal(t, "U2", records[0].SenderID)
	assert.Equal(t, notify.CategoryFriendRequest, records[0].Category)
	assert.Equal(t, notify.StatusUnread, records[0].Status)

	// Give a late duplicate time to show up before counting pushes.
	time.Sleep(300 * time.Millisecond)
	assert.ElementsMatch(t,
		[]string{"ExponentPushToken[u1-phone]", "ExponentPushToken[u1-tablet]"},
		tokensDelivered(w.dispatcher.Deliveries()),
	)
}

func TestSelfMessageIsIgnored(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	w := newWorld(t, ctx)

	// Arrange: a self message, then a real one used as a barrier.
	w.publish(t, ctx, &notify.Event{
		ID:      "evt-self",
		Type:    notify.EventMessageCreated,
		Message: &notify.Message{ID: "m-self", SenderID: "U2", ReceiverID: "U2", Text: "note to self"},
	})
	w.publish(t, ctx, &notify.Event{
		ID:      "evt-real",
		Type:    notify.EventMessageCreated,
		Message: &notify.Message{ID: "m-real", SenderID: "U3", ReceiverID: "U2", Text: "hello"},
	})

	// Assert
	require.Eventually(t, func() bool {
		return len(w.store.Records()) == 1
	}, 10*time.Second, 50*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	records := w.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "U3", records[0].SenderID)
	assert.Equal(t, "Cy: hello", records[0].Body)
}

func TestActivityFanOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	w := newWorld(t, ctx)

	// Act
	w.publish(t, ctx, &notify.Event{
		ID:   "evt-activity",
		Type: notify.EventActivityCreated,
		Activity: &notify.Activity{
			ID:           "A1",
			CreatorID:    "U1",
			Participants: []string{"U1", "U2", "U3"},
			Title:        "Picnic",
		},
	})

	// Assert
	require.Eventually(t, func() bool {
		return len(w.store.Records()) == 2 && len(w.dispatcher.Deliveries()) == 2
	}, 10*time.Second, 50*time.Millisecond)

	assert.Empty(t, w.recordsFor("U1"))
	assert.Len(t, w.recordsFor("U2"), 1)
	assert.Len(t, w.recordsFor("U3"), 1)
	assert.ElementsMatch(t,
		[]string{"ExponentPushToken[u2]", "ExponentPushToken[u3]"},
		tokensDelivered(w.dispatcher.Deliveries()),
	)
	count, err := testutil.GatherAndCount(w.svc.Recorder.Registry(), "notifier_records_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestHTTPEventEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	w := newWorld(t, ctx)

	payload, err := pipeline.EncodeEvent(&notify.Event{
		ID:   "evt-http",
		Type: notify.EventMessageCreated,
		Message: &notify.Message{
			ID:         "m-long",
			SenderID:   "U2",
			ReceiverID: "U3",
			Text:       strings.Repeat("x", 60),
		},
	})
	require.NoError(t, err)

	t.Run("rejects unauthenticated callers", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.svc.BaseURL+"/events", bytes.NewReader(payload))
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, w.store.Records())
	})

	t.Run("processes an authenticated event synchronously", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.svc.BaseURL+"/events", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Authorization", bearer(t))
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		records := w.recordsFor("U3")
		require.Len(t, records, 1)
		assert.Equal(t, "Bo: "+strings.Repeat("x", 50)+"...", records[0].Body)
		require.Len(t, w.dispatcher.Deliveries(), 1)
		assert.Equal(t, "ExponentPushToken[u3]", w.dispatcher.Deliveries()[0].Token)
	})
}
