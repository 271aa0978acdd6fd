package admission

import (
	"context"
	"fmt"
	"time"
)

// evaluationOrder fixes the order limit kinds are checked in. The first
// exceeded kind is the one reported, so denial messages stay deterministic
// even when several ceilings are exceeded at once. Credit kinds are only
// evaluated for operations with a non-zero credit cost.
var evaluationOrder = []LimitKind{
	LimitRequestsPerMinute,
	LimitRequestsPerHour,
	LimitRequestsPerDay,
	LimitCreditsPerHour,
	LimitCreditsPerDay,
}

// Gate is the admission-control entry point. HTTP handlers and queued jobs
// ask it whether an operation may proceed for a principal right now, under
// all of the principal's plan ceilings at once.
//
// A Gate is safe for concurrent use; all shared state lives in the counter
// store and is mutated only through atomic store operations.
type Gate struct {
	limiter *windowedLimiter
	config  Config
}

// NewGate creates a gate backed by the given counter store.
func NewGate(store CounterStore, config Config) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}

	// Set defaults
	if config.Plans == nil {
		config.Plans = DefaultPlans()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit:"
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = 500 * time.Millisecond
	}
	if config.Recorder == nil {
		config.Recorder = &NoopRecorder{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Gate{
		limiter: &windowedLimiter{
			store:   store,
			prefix:  config.KeyPrefix,
			timeout: config.StoreTimeout,
			logger:  config.Logger,
			metrics: config.Metrics,
			now:     config.Now,
		},
		config: config,
	}, nil
}

// Admit decides whether an operation may proceed for a principal.
//
// Every active ceiling is checked with a non-destructive read first; a
// denial therefore never consumes quota. Only when all checks pass is the
// admission confirmed by incrementing every evaluated window (request
// counters by 1, credit counters by creditCost). The value returned by each
// atomic increment arbitrates races at a ceiling: of two calls racing at
// ceiling-1, exactly one is admitted.
//
// Store failures never surface as errors; the gate fails open and logs.
// The returned error is non-nil only for caller mistakes (negative cost).
func (g *Gate) Admit(ctx context.Context, principalID string, tier Tier, operation string, creditCost int) (*Decision, error) {
	if creditCost < 0 {
		return nil, ErrInvalidCost
	}

	start := time.Now()
	defer func() {
		g.config.Metrics.RecordAdmissionDuration(operation, time.Since(start))
	}()

	limits := g.config.Plans.Lookup(tier)
	kinds := g.activeKinds(creditCost)

	// Phase 1: peek every window in order, deny on the first exceeded kind.
	degraded := false
	for _, kind := range kinds {
		ceiling := limits.Ceiling(kind)
		if ceiling <= 0 {
			continue // kind not enforced for this tier
		}

		used, ok := g.limiter.peek(ctx, principalID, kind.Counter(), kind.Granularity())
		if !ok {
			degraded = true
			continue
		}

		if used >= ceiling {
			d := g.deny(kind, used, ceiling)
			g.config.Metrics.RecordAdmission(tier, operation, false, kind)
			return d, nil
		}
	}

	// Phase 2: confirm by incrementing every evaluated window. A returned
	// value past the ceiling means another call won the window between our
	// peek and this increment; that call is denied. The loser's increment
	// stays in the self-expiring window, so the counter may overshoot by
	// the number of racers, admissions never do.
	for _, kind := range kinds {
		ceiling := limits.Ceiling(kind)
		if ceiling <= 0 {
			continue
		}

		amount := int64(1)
		if kind.Counter() == "credits" {
			amount = int64(creditCost)
		}

		value, ok := g.limiter.confirm(ctx, principalID, kind.Counter(), kind.Granularity(), amount)
		if !ok {
			degraded = true
			continue
		}

		// Same rule as the peek, applied to the pre-increment value the
		// atomic store reported: a racer filled the window between our
		// peek and this increment.
		if value-amount >= ceiling {
			d := g.deny(kind, value-amount, ceiling)
			g.config.Metrics.RecordAdmission(tier, operation, false, kind)
			return d, nil
		}
	}

	if degraded {
		g.config.Metrics.RecordFailOpen(operation)
	}

	g.config.Metrics.RecordAdmission(tier, operation, true, "")
	g.record(UsageEntry{
		PrincipalID: principalID,
		Operation:   operation,
		Credits:     creditCost,
		Allowed:     true,
		Timestamp:   g.config.Now().UTC(),
	})

	return &Decision{Allowed: true}, nil
}

// Usage returns a read-only snapshot of every window the principal's tier
// enforces, for usage dashboards. It consumes nothing.
func (g *Gate) Usage(ctx context.Context, principalID string, tier Tier) []WindowUsage {
	limits := g.config.Plans.Lookup(tier)

	out := make([]WindowUsage, 0, len(evaluationOrder))
	for _, kind := range evaluationOrder {
		ceiling := limits.Ceiling(kind)
		if ceiling <= 0 {
			continue
		}

		used, _ := g.limiter.peek(ctx, principalID, kind.Counter(), kind.Granularity())
		remaining := ceiling - used
		if remaining < 0 {
			remaining = 0
		}

		out = append(out, WindowUsage{
			Kind:      kind,
			Window:    kind.Granularity(),
			Used:      used,
			Ceiling:   ceiling,
			Remaining: remaining,
		})
	}
	return out
}

// ResetPrincipal clears every live window for a principal. Administrative
// use only; normal windows expire on their own.
func (g *Gate) ResetPrincipal(ctx context.Context, principalID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()

	prefix := g.config.KeyPrefix + principalID + ":"
	if err := g.limiter.store.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("failed to reset principal %s: %w", principalID, err)
	}

	g.config.Logger.Info("reset rate limits", Field{"principal_id", principalID})
	return nil
}

// activeKinds returns the limit kinds to evaluate for an operation.
func (g *Gate) activeKinds(creditCost int) []LimitKind {
	if creditCost > 0 {
		return evaluationOrder
	}
	return evaluationOrder[:3]
}

func (g *Gate) deny(kind LimitKind, used, ceiling int64) *Decision {
	granularity := kind.Granularity()
	return &Decision{
		Allowed:    false,
		Kind:       kind,
		Window:     granularity,
		Usage:      used,
		Ceiling:    ceiling,
		RetryAfter: untilBoundary(granularity, g.config.Now()),
		Message:    fmt.Sprintf("You have exceeded your %s limit. Please try again later.", kind),
	}
}

// record hands an admitted call to the usage recorder without blocking the
// caller. Recording is an observability concern: failures are logged and
// never reverse or delay a decision already granted.
func (g *Gate) record(entry UsageEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := g.config.Recorder.Record(ctx, entry); err != nil {
			g.config.Logger.Warn("usage recording failed",
				Field{"principal_id", entry.PrincipalID},
				Field{"operation", entry.Operation},
				Field{"error", err.Error()})
		}
	}()
}
