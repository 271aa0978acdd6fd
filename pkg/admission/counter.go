package admission

import (
	"context"
	"time"
)

// CounterStore defines the interface for the shared counter backend.
// All methods use concrete types from this package to avoid import cycles.
//
// Implementations must make IncrBy atomic across concurrent callers and
// process instances; correctness of the gate rests entirely on that. A store
// whose wire protocol cannot combine increment and expiry in one operation
// must set the TTL only when the increment created the key, so an existing
// window's expiry is never pushed out by later traffic.
type CounterStore interface {
	// Get returns the current counter value. Absent keys read as zero.
	Get(ctx context.Context, key string) (int64, error)

	// IncrBy atomically adds amount to the counter and returns the new
	// value. If the increment created the key, the key expires after ttl.
	IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// DeletePrefix removes every counter key with the given prefix. Used
	// by administrative resets only.
	DeletePrefix(ctx context.Context, prefix string) error
}
