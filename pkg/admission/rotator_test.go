package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youtubeintel/admission/pkg/admission"
	"github.com/youtubeintel/admission/storage/memory"
)

func seedCredentials(store *memory.Store) {
	reset := dayStart.AddDate(0, 0, 1)
	store.PutCredential(admission.Credential{
		ID: "key-a", Name: "primary", Service: "youtube",
		QuotaLimit: 10000, QuotaUsed: 5000, ResetDate: reset, Active: true,
	})
	store.PutCredential(admission.Credential{
		ID: "key-b", Name: "secondary", Service: "youtube",
		QuotaLimit: 10000, QuotaUsed: 2000, ResetDate: reset, Active: true,
	})
	store.PutCredential(admission.Credential{
		ID: "key-c", Name: "tertiary", Service: "youtube",
		QuotaLimit: 10000, QuotaUsed: 2000, ResetDate: reset, Active: true,
	})
}

func newTestRotator(t *testing.T, store *memory.Store) *admission.Rotator {
	t.Helper()

	rotator, err := admission.NewRotator(store, admission.RotatorConfig{
		Now: func() time.Time { return dayStart },
	})
	require.NoError(t, err)
	return rotator
}

func TestNewRotator_RequiresStore(t *testing.T) {
	_, err := admission.NewRotator(nil, admission.RotatorConfig{})
	assert.Error(t, err)
}

func TestRotator_Select_LeastUsedWins(t *testing.T) {
	store := memory.New()
	seedCredentials(store)
	rotator := newTestRotator(t, store)

	// key-b and key-c tie on usage; the ID breaks the tie.
	cred, err := rotator.Select(context.Background(), "youtube")
	require.NoError(t, err)
	assert.Equal(t, "key-b", cred.ID)
}

func TestRotator_Select_DeterministicForEqualState(t *testing.T) {
	store := memory.New()
	seedCredentials(store)
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	first, err := rotator.Select(ctx, "youtube")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		cred, err := rotator.Select(ctx, "youtube")
		require.NoError(t, err)
		assert.Equal(t, first.ID, cred.ID, "identical counter state must select identically")
	}
}

func TestRotator_Select_SpreadsLoadAsUsageShifts(t *testing.T) {
	store := memory.New()
	seedCredentials(store)
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	cred, err := rotator.Select(ctx, "youtube")
	require.NoError(t, err)
	require.Equal(t, "key-b", cred.ID)

	// Charging key-b past key-c moves selection to key-c.
	require.NoError(t, rotator.RecordSuccess(ctx, "key-b", 500))

	cred, err = rotator.Select(ctx, "youtube")
	require.NoError(t, err)
	assert.Equal(t, "key-c", cred.ID)
}

func TestRotator_Select_NeverOffersExhaustedCredential(t *testing.T) {
	store := memory.New()
	reset := dayStart.AddDate(0, 0, 1)
	store.PutCredential(admission.Credential{
		ID: "key-a", Service: "youtube",
		QuotaLimit: 100, QuotaUsed: 100, ResetDate: reset, Active: true,
	})
	store.PutCredential(admission.Credential{
		ID: "key-b", Service: "youtube",
		QuotaLimit: 100, QuotaUsed: 99, ResetDate: reset, Active: true,
	})
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	cred, err := rotator.Select(ctx, "youtube")
	require.NoError(t, err)
	assert.Equal(t, "key-b", cred.ID)

	require.NoError(t, rotator.RecordSuccess(ctx, "key-b", 1))

	_, err = rotator.Select(ctx, "youtube")
	assert.ErrorIs(t, err, admission.ErrNoEligibleCredential)
}

func TestRotator_Select_PoolExhausted(t *testing.T) {
	store := memory.New()
	rotator := newTestRotator(t, store)

	_, err := rotator.Select(context.Background(), "youtube")
	assert.ErrorIs(t, err, admission.ErrNoEligibleCredential)
}

func TestRotator_Select_IgnoresOtherServices(t *testing.T) {
	store := memory.New()
	store.PutCredential(admission.Credential{
		ID: "key-a", Service: "socialblade",
		QuotaLimit: 100, QuotaUsed: 0, ResetDate: dayStart.AddDate(0, 0, 1), Active: true,
	})
	rotator := newTestRotator(t, store)

	_, err := rotator.Select(context.Background(), "youtube")
	assert.ErrorIs(t, err, admission.ErrNoEligibleCredential)
}

func TestRotator_RecordSuccess_UpdatesUsageAndLastUsed(t *testing.T) {
	store := memory.New()
	seedCredentials(store)
	rotator := newTestRotator(t, store)

	require.NoError(t, rotator.RecordSuccess(context.Background(), "key-a", 100))

	cred, ok := store.GetCredential("key-a")
	require.True(t, ok)
	assert.Equal(t, int64(5100), cred.QuotaUsed)
	assert.Equal(t, dayStart, cred.LastUsed)
}

func TestRotator_RecordSuccess_UnknownCredential(t *testing.T) {
	store := memory.New()
	rotator := newTestRotator(t, store)

	err := rotator.RecordSuccess(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, admission.ErrCredentialNotFound)
}

func TestRotator_RecordError_DeactivatesAtThreshold(t *testing.T) {
	store := memory.New()
	seedCredentials(store)
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, rotator.RecordError(ctx, "key-b"))
		cred, _ := store.GetCredential("key-b")
		assert.True(t, cred.Active, "below threshold the credential stays active")
	}

	require.NoError(t, rotator.RecordError(ctx, "key-b"))

	cred, _ := store.GetCredential("key-b")
	assert.False(t, cred.Active)
	assert.Equal(t, 5, cred.ErrorCount)
}

func TestRotator_RecordError_DeactivatedExcludedDespiteHeadroom(t *testing.T) {
	store := memory.New()
	reset := dayStart.AddDate(0, 0, 1)
	store.PutCredential(admission.Credential{
		ID: "key-a", Service: "youtube",
		QuotaLimit: 10000, QuotaUsed: 0, ResetDate: reset, Active: true,
	})
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, rotator.RecordError(ctx, "key-a"))
	}

	// Plenty of quota left, but the error threshold has retired it.
	_, err := rotator.Select(ctx, "youtube")
	assert.ErrorIs(t, err, admission.ErrNoEligibleCredential)
}

func TestRotator_RecordError_CustomThreshold(t *testing.T) {
	store := memory.New()
	seedCredentials(store)

	rotator, err := admission.NewRotator(store, admission.RotatorConfig{
		ErrorThreshold: 2,
		Now:            func() time.Time { return dayStart },
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rotator.RecordError(ctx, "key-a"))
	require.NoError(t, rotator.RecordError(ctx, "key-a"))

	cred, _ := store.GetCredential("key-a")
	assert.False(t, cred.Active)
}

func TestRotator_MarkExhausted(t *testing.T) {
	store := memory.New()
	seedCredentials(store)
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	require.NoError(t, rotator.MarkExhausted(ctx, "key-b"))

	cred, _ := store.GetCredential("key-b")
	assert.Equal(t, cred.QuotaLimit, cred.QuotaUsed)

	// key-b is out until reset; selection moves on.
	selected, err := rotator.Select(ctx, "youtube")
	require.NoError(t, err)
	assert.Equal(t, "key-c", selected.ID)
}

func TestRotator_DailyResetRestoresPool(t *testing.T) {
	store := memory.New()
	store.PutCredential(admission.Credential{
		ID: "key-a", Service: "youtube",
		QuotaLimit: 100, QuotaUsed: 100, ResetDate: dayStart, Active: false, ErrorCount: 5,
	})
	rotator := newTestRotator(t, store)

	ctx := context.Background()
	_, err := rotator.Select(ctx, "youtube")
	require.ErrorIs(t, err, admission.ErrNoEligibleCredential)

	// The scheduled reset runs against the store, not the rotator.
	reset, err := store.ResetDue(ctx, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	cred, err := rotator.Select(ctx, "youtube")
	require.NoError(t, err)
	assert.Equal(t, "key-a", cred.ID)
	assert.Zero(t, cred.QuotaUsed)
	assert.Zero(t, cred.ErrorCount)
}
