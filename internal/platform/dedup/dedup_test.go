package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-activity-notifier/internal/platform/dedup"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()

	// Arrange
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard, err := dedup.NewRedisGuard(client, time.Minute)
	require.NoError(t, err)

	t.Run("First claim wins", func(t *testing.T) {
		first, err := guard.Claim(ctx, "msg-1")
		require.NoError(t, err)
		second, err := guard.Claim(ctx, "msg-1")
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
		assert.Equal(t, time.Minute, mr.TTL("notifier:event:msg-1"))
	})

	t.Run("Release allows a new claim", func(t *testing.T) {
		claimed, err := guard.Claim(ctx, "msg-2")
		require.NoError(t, err)
		require.True(t, claimed)

		require.NoError(t, guard.Release(ctx, "msg-2"))

		claimed, err = guard.Claim(ctx, "msg-2")
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("Claim expires", func(t *testing.T) {
		claimed, err := guard.Claim(ctx, "msg-3")
		require.NoError(t, err)
		require.True(t, claimed)

		mr.FastForward(2 * time.Minute)

		claimed, err = guard.Claim(ctx, "msg-3")
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("Server outage is an error", func(t *testing.T) {
		mr.SetError("LOADING")
		defer mr.SetError("")

		_, err := guard.Claim(ctx, "msg-4")
		assert.Error(t, err)
	})
}

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	guard := dedup.NewMemoryGuard(time.Hour)

	first, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	second, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, guard.Release(ctx, "k"))
	again, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestNewRedisGuard_NilClient(t *testing.T) {
	_, err := dedup.NewRedisGuard(nil, 0)
	assert.Error(t, err)
}
