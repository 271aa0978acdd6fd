// Package gin provides Gin middleware for admission enforcement.
package gin

import (
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/youtubeintel/admission/pkg/admission"
)

// PrincipalExtractor extracts the rate-limited principal and its tier from
// a Gin context. Return an empty ID if the user is not authenticated.
type PrincipalExtractor func(c *gongin.Context) (string, admission.Tier)

// OperationExtractor extracts the operation name from a Gin context.
type OperationExtractor func(c *gongin.Context) string

// CostExtractor returns the credit cost of the request's operation.
type CostExtractor func(c *gongin.Context) int

// Config holds middleware configuration.
type Config struct {
	// Gate is the admission gate instance (required).
	Gate *admission.Gate

	// GetPrincipal extracts principal ID and tier (required).
	GetPrincipal PrincipalExtractor

	// GetOperation extracts the operation name (default: METHOD path).
	GetOperation OperationExtractor

	// GetCost extracts the credit cost (default: 0).
	GetCost CostExtractor

	// OnDenied is called when admission is denied. If nil, the denial
	// payload is written as JSON with a 429 status and Retry-After header.
	OnDenied func(c *gongin.Context, d *admission.Decision)

	// OnUnauthorized is called when no principal is present.
	// If nil, aborts with 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that enforces admission control.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Gate == nil {
		panic("admission/gin: Config.Gate is required")
	}
	if cfg.GetPrincipal == nil {
		panic("admission/gin: Config.GetPrincipal is required")
	}

	// Set defaults
	if cfg.GetOperation == nil {
		cfg.GetOperation = func(c *gongin.Context) string {
			return c.Request.Method + " " + c.FullPath()
		}
	}
	if cfg.GetCost == nil {
		cfg.GetCost = func(c *gongin.Context) int { return 0 }
	}

	return func(c *gongin.Context) {
		principalID, tier := cfg.GetPrincipal(c)
		if principalID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			return
		}

		decision, err := cfg.Gate.Admit(c.Request.Context(), principalID, tier, cfg.GetOperation(c), cfg.GetCost(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gongin.H{"error": err.Error()})
			return
		}

		if !decision.Allowed {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, decision)
			} else {
				payload := decision.Payload()
				c.Header("Retry-After", strconv.Itoa(payload.RetryAfter))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, payload)
			}
			return
		}

		c.Next()
	}
}
