// Package redis provides a Redis implementation of the
// admission.CounterStore interface. Increment-with-expiry is done in a Lua
// script so it stays a single atomic operation: the TTL is applied only
// when the increment created the key, which keeps an existing window's
// expiry from being pushed out by later traffic.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments a counter and sets the TTL only on creation. The
// returned value equals the increment amount exactly when the key was just
// created, because counters are never decremented.
var incrScript = redis.NewScript(`
	local value = redis.call('INCRBY', KEYS[1], ARGV[1])
	if value == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return value
`)

// Store implements admission.CounterStore using Redis.
type Store struct {
	client redis.UniversalClient
}

// New creates a new Redis counter store. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{client: client}, nil
}

// Get implements admission.CounterStore. Absent keys read as zero.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return value, nil
}

// IncrBy implements admission.CounterStore.
func (s *Store) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	seconds := int64(ttl.Seconds())
	value, err := incrScript.Run(ctx, s.client, []string{key}, amount, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return value, nil
}

// DeletePrefix implements admission.CounterStore. SCAN keeps the walk
// incremental so an administrative reset never blocks the store.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete counters under %s: %w", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan counters under %s: %w", prefix, err)
	}

	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete counters under %s: %w", prefix, err)
		}
	}
	return nil
}
