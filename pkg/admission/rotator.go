package admission

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// CredentialStore defines the persistence interface for the credential
// pool. Usage and error counters are mutated through atomic store-level
// operations only; the rotator never reads, modifies and writes back.
type CredentialStore interface {
	// ListEligible returns the active credentials for a service whose
	// usage is strictly below their quota ceiling.
	ListEligible(ctx context.Context, service string) ([]Credential, error)

	// AddUsage atomically adds units to a credential's usage counter and
	// stamps its last-used time.
	AddUsage(ctx context.Context, credentialID string, units int64, usedAt time.Time) error

	// AddError atomically increments a credential's error count and
	// returns the new count.
	AddError(ctx context.Context, credentialID string) (int, error)

	// Deactivate clears a credential's active flag. Reactivation is
	// administrative (or via the daily reset).
	Deactivate(ctx context.Context, credentialID string) error

	// Exhaust pins a credential's usage to its ceiling, excluding it from
	// selection until the next reset. Used when the upstream service
	// reports the quota gone regardless of our own count.
	Exhaust(ctx context.Context, credentialID string) error

	// ResetDue zeroes usage and error counters and reactivates every
	// credential whose reset date has passed, returning how many were
	// reset. Invoked by an external daily scheduler, never by the rotator.
	ResetDue(ctx context.Context, now time.Time) (int, error)
}

// Rotator selects which credential carries each outbound call to a
// quota-limited external service, and records consumption and failures
// against the pool.
//
// Selection reads a snapshot; usage recorded afterwards may let a
// credential slightly overshoot its ceiling under heavy concurrency. That
// race is bounded and accepted rather than locking the pool around every
// outbound call.
type Rotator struct {
	store  CredentialStore
	config RotatorConfig
}

// NewRotator creates a rotator over the given credential store.
func NewRotator(store CredentialStore, config RotatorConfig) (*Rotator, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	// Set defaults
	if config.ErrorThreshold == 0 {
		config.ErrorThreshold = 5
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

	return &Rotator{store: store, config: config}, nil
}

// Select returns a usable credential for the service, or
// ErrNoEligibleCredential when the whole pool is exhausted or deactivated.
// Callers must treat that as "service exhausted for now" and defer the
// operation, not as a fatal error.
//
// Among eligible credentials the least-used wins, with the credential ID as
// tie-break: deterministic for a given counter state, and traffic drains
// toward whichever credential has the most headroom left.
func (r *Rotator) Select(ctx context.Context, service string) (*Credential, error) {
	creds, err := r.store.ListEligible(ctx, service)
	if err != nil {
		r.config.Metrics.RecordCredentialSelection(service, false)
		return nil, fmt.Errorf("failed to list credentials for %s: %w", service, err)
	}

	// The store already filters, but a stale row read between its check
	// and ours must never be offered past its ceiling.
	usable := creds[:0]
	for i := range creds {
		if creds[i].Usable() {
			usable = append(usable, creds[i])
		}
	}

	if len(usable) == 0 {
		r.config.Metrics.RecordCredentialSelection(service, false)
		r.config.Logger.Warn("credential pool exhausted", Field{"service", service})
		return nil, ErrNoEligibleCredential
	}

	sort.Slice(usable, func(i, j int) bool {
		if usable[i].QuotaUsed != usable[j].QuotaUsed {
			return usable[i].QuotaUsed < usable[j].QuotaUsed
		}
		return usable[i].ID < usable[j].ID
	})

	selected := usable[0]
	r.config.Metrics.RecordCredentialSelection(service, true)
	r.config.Logger.Debug("selected credential",
		Field{"service", service},
		Field{"credential", selected.Name},
		Field{"quota_used", selected.QuotaUsed},
		Field{"quota_limit", selected.QuotaLimit})

	return &selected, nil
}

// RecordSuccess charges units of upstream quota to a credential after a
// successful call and stamps its last-used time.
func (r *Rotator) RecordSuccess(ctx context.Context, credentialID string, units int64) error {
	if err := r.store.AddUsage(ctx, credentialID, units, r.config.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record usage on credential %s: %w", credentialID, err)
	}
	return nil
}

// RecordError charges a failure to a credential. A credential whose error
// count reaches the configured threshold is deactivated so a persistently
// failing key stops starving the rest of the pool; it stays out of
// selection until administratively reactivated.
func (r *Rotator) RecordError(ctx context.Context, credentialID string) error {
	r.config.Metrics.RecordCredentialError(credentialID)

	count, err := r.store.AddError(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("failed to record error on credential %s: %w", credentialID, err)
	}

	if count >= r.config.ErrorThreshold {
		if err := r.store.Deactivate(ctx, credentialID); err != nil {
			return fmt.Errorf("failed to deactivate credential %s: %w", credentialID, err)
		}
		r.config.Metrics.RecordCredentialDeactivation(credentialID)
		r.config.Logger.Warn("credential deactivated after repeated errors",
			Field{"credential_id", credentialID},
			Field{"error_count", count})
	}

	return nil
}

// MarkExhausted records that the upstream service rejected a credential
// for quota, pinning its usage to the ceiling until the daily reset. Our
// own count can undershoot the provider's (other consumers, billing lag),
// so the provider's word is final.
func (r *Rotator) MarkExhausted(ctx context.Context, credentialID string) error {
	if err := r.store.Exhaust(ctx, credentialID); err != nil {
		return fmt.Errorf("failed to mark credential %s exhausted: %w", credentialID, err)
	}

	r.config.Logger.Warn("credential quota exhausted upstream",
		Field{"credential_id", credentialID})
	return nil
}
