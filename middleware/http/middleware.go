// Package http provides HTTP middleware for admission enforcement.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/youtubeintel/admission/pkg/admission"
)

// PrincipalExtractor extracts the rate-limited principal and its tier from
// an HTTP request. Return an empty ID if the user is not authenticated.
type PrincipalExtractor func(r *http.Request) (string, admission.Tier)

// OperationExtractor extracts the operation name from an HTTP request.
type OperationExtractor func(r *http.Request) string

// CostExtractor returns the credit cost of the request's operation.
// Zero-cost operations are only checked against the request ceilings.
type CostExtractor func(r *http.Request) int

// Config holds middleware configuration.
type Config struct {
	// Gate is the admission gate instance (required).
	Gate *admission.Gate

	// GetPrincipal extracts principal ID and tier from the request (required).
	GetPrincipal PrincipalExtractor

	// GetOperation extracts the operation name (default: METHOD path).
	GetOperation OperationExtractor

	// GetCost extracts the credit cost (default: 0).
	GetCost CostExtractor

	// OnDenied is called when admission is denied. If nil, the denial
	// payload is written as JSON with a 429 status and Retry-After header.
	OnDenied func(w http.ResponseWriter, r *http.Request, d *admission.Decision)

	// OnUnauthorized is called when no principal is present.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that enforces admission control.
func Middleware(config Config) func(http.Handler) http.Handler {
	// Validate required configuration at startup (fail fast)
	if config.Gate == nil {
		panic("admission/http: Config.Gate is required")
	}
	if config.GetPrincipal == nil {
		panic("admission/http: Config.GetPrincipal is required")
	}

	// Set defaults
	if config.GetOperation == nil {
		config.GetOperation = func(r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}
	}
	if config.GetCost == nil {
		config.GetCost = func(r *http.Request) int { return 0 }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, tier := config.GetPrincipal(r)
			if principalID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			operation := config.GetOperation(r)
			cost := config.GetCost(r)

			decision, err := config.Gate.Admit(r.Context(), principalID, tier, operation, cost)
			if err != nil {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}

			if !decision.Allowed {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
				} else {
					WriteDenial(w, decision)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteDenial serializes the denial contract: 429 with a Retry-After
// header and the JSON payload clients are documented to receive.
func WriteDenial(w http.ResponseWriter, d *admission.Decision) {
	payload := d.Payload()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(payload.RetryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	//nolint:errcheck // Nothing useful to do with a write error here
	_ = json.NewEncoder(w).Encode(payload)
}

// ContextKey is a type for context keys.
type ContextKey string

const (
	// PrincipalIDKey is the context key for the principal ID.
	PrincipalIDKey ContextKey = "admission:principalID"
	// TierKey is the context key for the principal's tier.
	TierKey ContextKey = "admission:tier"
)

// FromContext returns a PrincipalExtractor that reads principal ID and
// tier from the request context (set by an upstream auth middleware).
func FromContext() PrincipalExtractor {
	return func(r *http.Request) (string, admission.Tier) {
		ctx := r.Context()
		id, _ := ctx.Value(PrincipalIDKey).(string)
		tier, _ := ctx.Value(TierKey).(admission.Tier)
		return id, tier
	}
}

// FromHeaders returns a PrincipalExtractor that reads principal ID and
// tier from the given headers. Trust these only behind a gateway that
// strips them from client traffic.
func FromHeaders(idHeader, tierHeader string) PrincipalExtractor {
	return func(r *http.Request) (string, admission.Tier) {
		return r.Header.Get(idHeader), admission.Tier(r.Header.Get(tierHeader))
	}
}

// FixedCost returns a CostExtractor that always returns a fixed cost.
func FixedCost(cost int) CostExtractor {
	return func(r *http.Request) int { return cost }
}

// FixedOperation returns an OperationExtractor that always returns a
// fixed operation name.
func FixedOperation(operation string) OperationExtractor {
	return func(r *http.Request) string { return operation }
}

// WithPrincipal adds principal ID and tier to a context.
func WithPrincipal(ctx context.Context, principalID string, tier admission.Tier) context.Context {
	ctx = context.WithValue(ctx, PrincipalIDKey, principalID)
	return context.WithValue(ctx, TierKey, tier)
}
