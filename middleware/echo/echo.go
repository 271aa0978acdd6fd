// Package echo provides Echo middleware for admission enforcement.
package echo

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/youtubeintel/admission/pkg/admission"
)

// PrincipalExtractor extracts the rate-limited principal and its tier from
// an Echo context. Return an empty ID if the user is not authenticated.
type PrincipalExtractor func(c echo.Context) (string, admission.Tier)

// OperationExtractor extracts the operation name from an Echo context.
type OperationExtractor func(c echo.Context) string

// CostExtractor returns the credit cost of the request's operation.
type CostExtractor func(c echo.Context) int

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
	OnDenied func(c echo.Context, d *admission.Decision) error

	// OnUnauthorized is called when no principal is present.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error
}

// Middleware creates an Echo middleware that enforces admission control.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Gate == nil {
		panic("admission/echo: Config.Gate is required")
	}
	if cfg.GetPrincipal == nil {
		panic("admission/echo: Config.GetPrincipal is required")
	}

	// Set defaults
	if cfg.GetOperation == nil {
		cfg.GetOperation = func(c echo.Context) string {
			return c.Request().Method + " " + c.Path()
		}
	}
	if cfg.GetCost == nil {
		cfg.GetCost = func(c echo.Context) int { return 0 }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principalID, tier := cfg.GetPrincipal(c)
			if principalID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}

			decision, err := cfg.Gate.Admit(c.Request().Context(), principalID, tier, cfg.GetOperation(c), cfg.GetCost(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}

			if !decision.Allowed {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, decision)
				}
				payload := decision.Payload()
				c.Response().Header().Set("Retry-After", strconv.Itoa(payload.RetryAfter))
				return c.JSON(http.StatusTooManyRequests, payload)
			}

			return next(c)
		}
	}
}
