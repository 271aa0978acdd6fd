package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestStore_Get_AbsentKeyReadsZero(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client)
	require.NoError(t, err)

	value, err := store.Get(context.Background(), "ratelimit:u1:requests:minute:0")
	require.NoError(t, err)
	assert.Zero(t, value)
}

func TestStore_IncrBy_CreatesAndAccumulates(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client)
	require.NoError(t, err)
	ctx := context.Background()

	value, err := store.IncrBy(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)

	value, err = store.IncrBy(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(6), value)

	value, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(6), value)
}

func TestStore_IncrBy_TTLOnlyOnCreate(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.IncrBy(ctx, "k", 1, time.Minute)
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, "k").Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)

	// A second increment on the live key must not refresh the expiry.
	time.Sleep(1100 * time.Millisecond)
	_, err = store.IncrBy(ctx, "k", 1, time.Minute)
	require.NoError(t, err)

	ttl, err = client.TTL(ctx, "k").Result()
	require.NoError(t, err)
	assert.Less(t, ttl, time.Minute)
}

func TestStore_IncrBy_ExpiredKeyRestarts(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.IncrBy(ctx, "k", 3, time.Second)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	value, err := store.IncrBy(ctx, "k", 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), value, "expired counter restarts at the increment amount")

	ttl, err := client.TTL(ctx, "k").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl, "the restarted counter carries a fresh expiry")
}

func TestStore_DeletePrefix(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client)
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = store.IncrBy(ctx, "ratelimit:u1:requests:minute:0", 1, time.Minute)
	_, _ = store.IncrBy(ctx, "ratelimit:u1:credits:hour:0", 1, time.Hour)
	_, _ = store.IncrBy(ctx, "ratelimit:u2:requests:minute:0", 1, time.Minute)

	require.NoError(t, store.DeletePrefix(ctx, "ratelimit:u1:"))

	value, _ := store.Get(ctx, "ratelimit:u1:requests:minute:0")
	assert.Zero(t, value)
	value, _ = store.Get(ctx, "ratelimit:u1:credits:hour:0")
	assert.Zero(t, value)
	value, _ = store.Get(ctx, "ratelimit:u2:requests:minute:0")
	assert.Equal(t, int64(1), value, "other principals' counters survive")
}
