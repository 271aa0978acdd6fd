// Package admission implements multi-window, plan-tiered admission control
// for API traffic together with quota-aware rotation of external-service
// credentials. Counters live in a shared store (Redis in production) so the
// same limits hold across every process instance.
package admission

import (
	"time"
)

// Tier identifies a subscription plan.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierBusiness     Tier = "business"
	TierEnterprise   Tier = "enterprise"
)

// LimitKind identifies which ceiling a counter is measured against.
type LimitKind string

const (
	// LimitRequestsPerMinute caps raw request count per minute window.
	LimitRequestsPerMinute LimitKind = "requests_per_minute"
	// LimitRequestsPerHour caps raw request count per hour window.
	LimitRequestsPerHour LimitKind = "requests_per_hour"
	// LimitRequestsPerDay caps raw request count per day window.
	LimitRequestsPerDay LimitKind = "requests_per_day"
	// LimitCreditsPerHour caps billed credits per hour window.
	LimitCreditsPerHour LimitKind = "credits_per_hour"
	// LimitCreditsPerDay caps billed credits per day window.
	LimitCreditsPerDay LimitKind = "credits_per_day"
)

// Granularity is the length class of a counting window.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Window returns the window length for the granularity.
func (g Granularity) Window() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Granularity returns the window length class the limit kind is counted in.
func (k LimitKind) Granularity() Granularity {
	switch k {
	case LimitRequestsPerMinute:
		return GranularityMinute
	case LimitRequestsPerHour, LimitCreditsPerHour:
		return GranularityHour
	case LimitRequestsPerDay, LimitCreditsPerDay:
		return GranularityDay
	default:
		return GranularityMinute
	}
}

// Counter returns the counter family ("requests" or "credits") the limit
// kind applies to. Request and credit counters are tracked independently.
func (k LimitKind) Counter() string {
	switch k {
	case LimitCreditsPerHour, LimitCreditsPerDay:
		return "credits"
	default:
		return "requests"
	}
}

// Decision is the outcome of an admission check. It is produced fresh on
// every call and never persisted.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Denied fields. Kind is the first limit kind exceeded in evaluation
	// order; Window names its granularity. Zero values when Allowed.
	Kind    LimitKind
	Window  Granularity
	Usage   int64
	Ceiling int64

	// RetryAfter is the time until the exceeded window's next boundary.
	RetryAfter time.Duration

	// Message is a human-readable denial explanation, ready for clients.
	Message string
}

// DenialPayload is the wire shape transport layers serialize for a denied
// call. Field names are a published API contract; do not rename them.
type DenialPayload struct {
	Error        string `json:"error"`
	Kind         string `json:"limit_type"`
	Window       string `json:"window"`
	CurrentUsage int64  `json:"current_usage"`
	MaxAllowed   int64  `json:"max_allowed"`
	RetryAfter   int    `json:"retry_after"`
	Message      string `json:"message"`
}

// Payload converts a denied decision into its wire shape.
func (d *Decision) Payload() DenialPayload {
	return DenialPayload{
		Error:        "Rate limit exceeded",
		Kind:         string(d.Kind),
		Window:       string(d.Window),
		CurrentUsage: d.Usage,
		MaxAllowed:   d.Ceiling,
		RetryAfter:   int(d.RetryAfter / time.Second),
		Message:      d.Message,
	}
}

// Credential is a rotating access token for a quota-limited external
// service (e.g. one of several YouTube Data API keys sharing a pool).
type Credential struct {
	ID         string
	Name       string
	Service    string
	QuotaLimit int64
	QuotaUsed  int64
	ResetDate  time.Time
	Active     bool
	ErrorCount int
	LastUsed   time.Time
}

// Usable reports whether the credential may carry another call.
func (c *Credential) Usable() bool {
	return c.Active && c.QuotaUsed < c.QuotaLimit
}

// Remaining returns the credential's unused daily quota.
func (c *Credential) Remaining() int64 {
	if c.QuotaUsed >= c.QuotaLimit {
		return 0
	}
	return c.QuotaLimit - c.QuotaUsed
}

// UsageEntry is the metadata recorded for an admitted call.
type UsageEntry struct {
	PrincipalID string
	Operation   string
	Credits     int
	Allowed     bool
	Timestamp   time.Time
}

// WindowUsage is a read-only snapshot of one window's counter, used for
// usage dashboards.
type WindowUsage struct {
	Kind      LimitKind
	Window    Granularity
	Used      int64
	Ceiling   int64
	Remaining int64
}

// Config holds gate configuration.
type Config struct {
	// Plans maps tiers to their ceilings (default: DefaultPlans()).
	Plans PlanTable

	// KeyPrefix is prepended to every counter key (default: "ratelimit:").
	KeyPrefix string

	// StoreTimeout bounds each counter-store call (default: 500ms). On
	// timeout the gate fails open.
	StoreTimeout time.Duration

	// Recorder receives admitted-call metadata (default: NoopRecorder).
	Recorder UsageRecorder

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking admission operations (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, for tests (default: time.Now).
	Now func() time.Time
}

// RotatorConfig holds credential rotator configuration.
type RotatorConfig struct {
	// ErrorThreshold is the cumulative error count at which a credential
	// is deactivated (default: 5).
	ErrorThreshold int

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking rotation operations (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, for tests (default: time.Now).
	Now func() time.Time
}
