// Package fiber provides Fiber middleware for admission enforcement.
package fiber

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/youtubeintel/admission/pkg/admission"
)

// PrincipalExtractor extracts the rate-limited principal and its tier from
// a Fiber context. Return an empty ID if the user is not authenticated.
type PrincipalExtractor func(c *fiber.Ctx) (string, admission.Tier)

// OperationExtractor extracts the operation name from a Fiber context.
type OperationExtractor func(c *fiber.Ctx) string

// CostExtractor returns the credit cost of the request's operation.
type CostExtractor func(c *fiber.Ctx) int

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
	OnDenied func(c *fiber.Ctx, d *admission.Decision) error

	// OnUnauthorized is called when no principal is present.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that enforces admission control.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Gate == nil {
		panic("admission/fiber: Config.Gate is required")
	}
	if cfg.GetPrincipal == nil {
		panic("admission/fiber: Config.GetPrincipal is required")
	}

	// Set defaults
	if cfg.GetOperation == nil {
		cfg.GetOperation = func(c *fiber.Ctx) string {
			return c.Method() + " " + c.Path()
		}
	}
	if cfg.GetCost == nil {
		cfg.GetCost = func(c *fiber.Ctx) int { return 0 }
	}

	return func(c *fiber.Ctx) error {
		principalID, tier := cfg.GetPrincipal(c)
		if principalID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		decision, err := cfg.Gate.Admit(c.UserContext(), principalID, tier, cfg.GetOperation(c), cfg.GetCost(c))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		if !decision.Allowed {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, decision)
			}
			payload := decision.Payload()
			c.Set("Retry-After", strconv.Itoa(payload.RetryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(payload)
		}

		return c.Next()
	}
}
