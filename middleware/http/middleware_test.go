package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youtubeintel/admission/pkg/admission"
	"github.com/youtubeintel/admission/storage/memory"
)

func newTestGate(t *testing.T) *admission.Gate {
	t.Helper()

	gate, err := admission.NewGate(memory.New(), admission.Config{})
	require.NoError(t, err)
	return gate
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestMiddleware_RequiresGateAndPrincipalExtractor(t *testing.T) {
	assert.Panics(t, func() {
		Middleware(Config{GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier")})
	})
	assert.Panics(t, func() {
		Middleware(Config{Gate: newTestGate(t)})
	})
}

func TestMiddleware_AllowsUnderCeiling(t *testing.T) {
	handler := Middleware(Config{
		Gate:         newTestGate(t),
		GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Tier", string(admission.TierFree))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMiddleware_DeniedWritesContract(t *testing.T) {
	handler := Middleware(Config{
		Gate:         newTestGate(t),
		GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier"),
	})(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/channels", nil)
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("X-User-Tier", string(admission.TierFree))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	// The free tier allows 10 requests per minute.
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, send().Code)
	}

	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var payload admission.DenialPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Rate limit exceeded", payload.Error)
	assert.Equal(t, string(admission.LimitRequestsPerMinute), payload.Kind)
	assert.Equal(t, string(admission.GranularityMinute), payload.Window)
	assert.Equal(t, int64(10), payload.CurrentUsage)
	assert.Equal(t, int64(10), payload.MaxAllowed)
	assert.LessOrEqual(t, payload.RetryAfter, 60)
	assert.NotEmpty(t, payload.Message)
}

func TestMiddleware_MissingPrincipalUnauthorized(t *testing.T) {
	handler := Middleware(Config{
		Gate:         newTestGate(t),
		GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	deniedCalled := false
	unauthorizedCalled := false

	handler := Middleware(Config{
		Gate:         newTestGate(t),
		GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier"),
		GetCost:      FixedCost(1000), // blows the free credits/hour ceiling of 50
		OnDenied: func(w http.ResponseWriter, r *http.Request, d *admission.Decision) {
			deniedCalled = true
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		OnUnauthorized: func(w http.ResponseWriter, r *http.Request) {
			unauthorizedCalled = true
			w.WriteHeader(http.StatusForbidden)
		},
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, unauthorizedCalled)

	// First call starts under every ceiling; the second finds 1000 credits
	// used against the free tier's 50 per hour.
	req = httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Tier", string(admission.TierFree))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, deniedCalled)
}

func TestMiddleware_FromContext(t *testing.T) {
	handler := Middleware(Config{
		Gate:         newTestGate(t),
		GetPrincipal: FromContext(),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	req = req.WithContext(WithPrincipal(req.Context(), "u1", admission.TierStarter))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_DefaultOperationIsMethodAndPath(t *testing.T) {
	recorder := memory.New()
	gate, err := admission.NewGate(memory.New(), admission.Config{Recorder: recorder})
	require.NoError(t, err)

	handler := Middleware(Config{
		Gate:         gate,
		GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/channels/batch", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Tier", string(admission.TierStarter))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(recorder.Entries()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "POST /channels/batch", recorder.Entries()[0].Operation)
}

func TestMiddleware_NegativeCostRejected(t *testing.T) {
	handler := Middleware(Config{
		Gate:         newTestGate(t),
		GetPrincipal: FromHeaders("X-User-ID", "X-User-Tier"),
		GetCost:      FixedCost(-1),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Tier", string(admission.TierFree))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
