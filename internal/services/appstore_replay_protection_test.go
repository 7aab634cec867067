package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayProtection(t *testing.T) {
	rp := NewReplayProtection(time.Minute)
	t.Cleanup(rp.Stop)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rp.now = func() time.Time { return now }
	ctx := context.Background()

	duplicate, err := rp.Mark(ctx, "uuid-1")
	require.NoError(t, err)
	assert.False(t, duplicate)

	duplicate, err = rp.Mark(ctx, "uuid-1")
	require.NoError(t, err)
	assert.True(t, duplicate)

	// empty IDs are never treated as replays
	duplicate, _ = rp.Mark(ctx, "")
	assert.False(t, duplicate)
	duplicate, _ = rp.Mark(ctx, "")
	assert.False(t, duplicate)

	require.NoError(t, rp.Forget(ctx, "uuid-1"))
	duplicate, _ = rp.Mark(ctx, "uuid-1")
	assert.False(t, duplicate)

	now = now.Add(2 * time.Minute)
	duplicate, _ = rp.Mark(ctx, "uuid-1")
	assert.False(t, duplicate)
}

func TestReplayProtectionCleanup(t *testing.T) {
	rp := NewReplayProtection(time.Minute)
	t.Cleanup(rp.Stop)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rp.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = rp.Mark(ctx, "old")
	now = now.Add(90 * time.Second)
	_, _ = rp.Mark(ctx, "fresh")

	rp.cleanup()

	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	assert.NotContains(t, rp.processedNotifications, "old")
	assert.Contains(t, rp.processedNotifications, "fresh")
}

func TestReplayProtectionDefaultsTTL(t *testing.T) {
	rp := NewReplayProtection(0)
	rp.Stop()
	rp.Stop() // idempotent

	assert.Equal(t, 24*time.Hour, rp.notificationTTL)
}

// Runs against a real Redis when REDIS_URL is set.
func TestRedisReplayGuard(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, redisURL)
	require.NoError(t, err)
	defer client.Close()

	guard := NewRedisReplayGuard(client, time.Minute)
	id := uuid.NewString()
	t.Cleanup(func() { _ = guard.Forget(ctx, id) })

	duplicate, err := guard.Mark(ctx, id)
	require.NoError(t, err)
	assert.False(t, duplicate)

	duplicate, err = guard.Mark(ctx, id)
	require.NoError(t, err)
	assert.True(t, duplicate)

	require.NoError(t, guard.Forget(ctx, id))
	duplicate, err = guard.Mark(ctx, id)
	require.NoError(t, err)
	assert.False(t, duplicate)
}
