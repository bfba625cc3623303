package notify_test

import (
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Build(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	builder := notify.NewBuilder(func() time.Time { return fixed })

	testCases := []struct {
		name          string
		category      notify.Category
		rc            notify.RecordContext
		expectedTitle string
		expectedBody  string
	}{
		{
			name:          "Friend request",
			category:      notify.CategoryFriendRequest,
			rc:            notify.RecordContext{FactID: "u1:u2", SenderName: "Alice"},
			expectedTitle: "New Friend Request",
			expectedBody:  "Alice sent you a friend request.",
		},
		{
			name:          "Message with text",
			category:      notify.CategoryMessage,
			rc:            notify.RecordContext{FactID: "m1", SenderName: "Alice", MessageText: "hi there"},
			expectedTitle: "New Message",
			expectedBody:  "Alice: hi there",
		},
		{
			name:          "Message without text uses media type",
			category:      notify.CategoryMessage,
			rc:            notify.RecordContext{FactID: "m2", SenderName: "Alice", MediaType: "image"},
			expectedTitle: "New Message",
			expectedBody:  "Alice sent you a new image.",
		},
		{
			name:          "Activity",
			category:      notify.CategoryActivity,
			rc:            notify.RecordContext{FactID: "a1", SenderName: "Alice", ActivityTitle: "Hike"},
			expectedTitle: "New Activity",
			expectedBody:  `Alice added you to "Hike".`,
		},
		{
			name:          "Missing sender name falls back to generic label",
			category:      notify.CategoryFriendRequest,
			rc:            notify.RecordContext{FactID: "u1:u3"},
			expectedTitle: "New Friend Request",
			expectedBody:  "Someone sent you a friend request.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			record, err := builder.Build(tc.category, "sender", "recipient", tc.rc)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedTitle, record.Title)
			assert.Equal(t, tc.expectedBody, record.Body)
			assert.Equal(t, notify.StatusUnread, record.Status)
			assert.Equal(t, fixed, record.CreatedAt)
			assert.Equal(t, "sender", record.SenderID)
			assert.Equal(t, "recipient", record.RecipientID)
			assert.Equal(t, notify.RecordID(tc.category, "recipient", tc.rc.FactID), record.ID)
		})
	}
}

func TestBuilder_SelfNotification(t *testing.T) {
	builder := notify.NewBuilder(nil)

	for _, category := range []notify.Category{notify.CategoryFriendRequest, notify.CategoryMessage, notify.CategoryActivity} {
		record, err := builder.Build(category, "u1", "u1", notify.RecordContext{FactID: "f"})
		require.ErrorIs(t, err, notify.ErrSelfNotification)
		assert.Nil(t, record)
	}
}

func TestBuilder_UnknownCategory(t *testing.T) {
	_, err := notify.NewBuilder(nil).Build("poke", "u1", "u2", notify.RecordContext{})
	require.Error(t, err)
}

func TestBuilder_TruncatesLongMessages(t *testing.T) {
	text := strings.Repeat("a", 50) + strings.Repeat("b", 10)
	record, err := notify.NewBuilder(nil).Build(notify.CategoryMessage, "u1", "u2", notify.RecordContext{
		FactID:      "m1",
		SenderName:  "Alice",
		MessageText: text,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice: "+strings.Repeat("a", 50)+"...", record.Body)
}

func TestBuilder_TimestampsNeverDecrease(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Second), base.Add(time.Second)}
	i := 0
	builder := notify.NewBuilder(func() time.Time {
		tick := ticks[i]
		i++
		return tick
	})

	var previous time.Time
	for n := 0; n < len(ticks); n++ {
		record, err := builder.Build(notify.CategoryActivity, "u1", "u2", notify.RecordContext{FactID: "a"})
		require.NoError(t, err)
		assert.False(t, record.CreatedAt.Before(previous))
		previous = record.CreatedAt
	}
	assert.Equal(t, base.Add(time.Second), previous)
}

func TestBuilder_CopiesData(t *testing.T) {
	data := map[string]string{"messageId": "m1"}
	record, err := notify.NewBuilder(nil).Build(notify.CategoryMessage, "u1", "u2", notify.RecordContext{FactID: "m1", Data: data})
	require.NoError(t, err)

	data["messageId"] = "changed"
	assert.Equal(t, "m1", record.Data["messageId"])
}

func TestRecordID(t *testing.T) {
	a := notify.RecordID(notify.CategoryMessage, "u2", "m1")
	assert.Equal(t, a, notify.RecordID(notify.CategoryMessage, "u2", "m1"))
	assert.NotEqual(t, a, notify.RecordID(notify.CategoryMessage, "u3", "m1"))
	assert.NotEqual(t, a, notify.RecordID(notify.CategoryActivity, "u2", "m1"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", notify.Truncate("short", 50))
	assert.Equal(t, strings.Repeat("x", 50), notify.Truncate(strings.Repeat("x", 50), 50))
	assert.Equal(t, "héll...", notify.Truncate("héllo", 4))
}
