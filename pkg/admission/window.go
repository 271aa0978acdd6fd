package admission

import (
	"context"
	"fmt"
	"time"
)

// windowedLimiter reads and advances floor-aligned window counters in the
// shared store. It is deliberately fail-open: when the store is unreachable
// or times out, reads report zero usage and increments are dropped, with a
// warning logged. Availability of the product takes priority over strict
// enforcement during store outages; do not tighten this without realizing
// it changes observable behavior under outage.
type windowedLimiter struct {
	store   CounterStore
	prefix  string
	timeout time.Duration
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// key derives the counter key for a principal, counter family and
// granularity at the given instant. The bucket start is the floor-aligned
// epoch time of the window, so two calls in the same window always address
// the same counter and calls in different windows never collide. Stale
// buckets age out through the store TTL set on first increment.
func (l *windowedLimiter) key(principalID, counter string, g Granularity, now time.Time) string {
	window := int64(g.Window() / time.Second)
	bucketStart := now.Unix() - now.Unix()%window
	return fmt.Sprintf("%s%s:%s:%s:%d", l.prefix, principalID, counter, g, bucketStart)
}

// peek returns the window's current usage without consuming anything.
// Denied attempts must not count against the principal, so the decision
// read is always non-destructive.
func (l *windowedLimiter) peek(ctx context.Context, principalID, counter string, g Granularity) (int64, bool) {
	key := l.key(principalID, counter, g, l.now())

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	used, err := l.store.Get(ctx, key)
	l.metrics.RecordStoreOperation("get", time.Since(start), err)
	if err != nil {
		l.logger.Warn("counter store read failed, failing open",
			Field{"key", key}, Field{"error", err.Error()})
		return 0, false
	}
	return used, true
}

// confirm advances the window's counter by amount and returns the new
// value. The TTL equals the window length; the store only applies it when
// the increment created the key. ok is false when the store was
// unreachable, in which case the admission stands uncounted.
func (l *windowedLimiter) confirm(ctx context.Context, principalID, counter string, g Granularity, amount int64) (int64, bool) {
	key := l.key(principalID, counter, g, l.now())

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	value, err := l.store.IncrBy(ctx, key, amount, g.Window())
	l.metrics.RecordStoreOperation("incrby", time.Since(start), err)
	if err != nil {
		l.logger.Warn("counter store increment failed, admission uncounted",
			Field{"key", key}, Field{"error", err.Error()})
		return 0, false
	}
	return value, true
}

// untilBoundary returns the time remaining until the granularity's next
// bucket boundary, used as the retry-after hint on denial.
func untilBoundary(g Granularity, now time.Time) time.Duration {
	window := int64(g.Window() / time.Second)
	elapsed := now.Unix() % window
	return time.Duration(window-elapsed) * time.Second
}
