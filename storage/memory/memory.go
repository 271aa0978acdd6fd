// Package memory provides in-memory implementations of the admission
// storage interfaces. Counters are process-local, so this store is meant
// for tests and single-instance development, not production enforcement.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/youtubeintel/admission/pkg/admission"
)

type counter struct {
	value     int64
	expiresAt time.Time
}

// Store implements admission.CounterStore, admission.CredentialStore and
// admission.UsageRecorder using mutex-guarded maps.
type Store struct {
	mu          sync.Mutex
	counters    map[string]*counter
	credentials map[string]*admission.Credential
	entries     []admission.UsageEntry

	// Now overrides the clock used for counter expiry, for tests.
	Now func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		counters:    make(map[string]*counter),
		credentials: make(map[string]*admission.Credential),
		Now:         time.Now,
	}
}

// Get implements admission.CounterStore. Expired and absent keys read as zero.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.Now().After(c.expiresAt) {
		return 0, nil
	}
	return c.value, nil
}

// IncrBy implements admission.CounterStore. The TTL applies only when the
// increment creates the key; an existing window keeps its original expiry.
func (s *Store) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		s.counters[key] = &counter{value: amount, expiresAt: now.Add(ttl)}
		return amount, nil
	}

	c.value += amount
	return c.value, nil
}

// DeletePrefix implements admission.CounterStore.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.counters {
		if strings.HasPrefix(key, prefix) {
			delete(s.counters, key)
		}
	}
	return nil
}

// PutCredential stores or replaces a credential. Test and development
// stand-in for administrative provisioning.
func (s *Store) PutCredential(cred admission.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credCopy := cred
	s.credentials[cred.ID] = &credCopy
}

// GetCredential returns a copy of a credential.
func (s *Store) GetCredential(credentialID string) (admission.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return admission.Credential{}, false
	}
	return *c, true
}

// ListEligible implements admission.CredentialStore.
func (s *Store) ListEligible(ctx context.Context, service string) ([]admission.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []admission.Credential
	for _, c := range s.credentials {
		if c.Service == service && c.Usable() {
			out = append(out, *c)
		}
	}
	return out, nil
}

// AddUsage implements admission.CredentialStore.
func (s *Store) AddUsage(ctx context.Context, credentialID string, units int64, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return admission.ErrCredentialNotFound
	}

	c.QuotaUsed += units
	c.LastUsed = usedAt
	return nil
}

// AddError implements admission.CredentialStore.
func (s *Store) AddError(ctx context.Context, credentialID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return 0, admission.ErrCredentialNotFound
	}

	c.ErrorCount++
	return c.ErrorCount, nil
}

// Deactivate implements admission.CredentialStore.
func (s *Store) Deactivate(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return admission.ErrCredentialNotFound
	}

	c.Active = false
	return nil
}

// Exhaust implements admission.CredentialStore.
func (s *Store) Exhaust(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return admission.ErrCredentialNotFound
	}

	c.QuotaUsed = c.QuotaLimit
	return nil
}

// ResetDue implements admission.CredentialStore.
func (s *Store) ResetDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, c := range s.credentials {
		if c.ResetDate.After(now) {
			continue
		}
		c.QuotaUsed = 0
		c.ErrorCount = 0
		c.Active = true
		c.ResetDate = now.AddDate(0, 0, 1)
		reset++
	}
	return reset, nil
}

// Record implements admission.UsageRecorder.
func (s *Store) Record(ctx context.Context, entry admission.UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of all recorded usage entries.
func (s *Store) Entries() []admission.UsageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]admission.UsageEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
