package admission

// PlanLimits holds the ceilings for one tier across all limit kinds.
type PlanLimits struct {
	RequestsPerMinute int64
	RequestsPerHour   int64
	RequestsPerDay    int64
	CreditsPerHour    int64
	CreditsPerDay     int64
}

// Ceiling returns the ceiling for a limit kind.
func (p PlanLimits) Ceiling(kind LimitKind) int64 {
	switch kind {
	case LimitRequestsPerMinute:
		return p.RequestsPerMinute
	case LimitRequestsPerHour:
		return p.RequestsPerHour
	case LimitRequestsPerDay:
		return p.RequestsPerDay
	case LimitCreditsPerHour:
		return p.CreditsPerHour
	case LimitCreditsPerDay:
		return p.CreditsPerDay
	default:
		return 0
	}
}

// PlanTable maps tiers to their ceilings.
type PlanTable map[Tier]PlanLimits

// Lookup returns the limits for a tier, falling back to the free tier for
// unknown tiers so that a mis-set plan column degrades rather than opens up.
func (t PlanTable) Lookup(tier Tier) PlanLimits {
	if limits, ok := t[tier]; ok {
		return limits
	}
	return t[TierFree]
}

// DefaultPlans returns the production plan table. Ceilings are
// non-decreasing from tier to tier; keep it that way when editing.
func DefaultPlans() PlanTable {
	return PlanTable{
		TierFree: {
			RequestsPerMinute: 10,
			RequestsPerHour:   100,
			RequestsPerDay:    500,
			CreditsPerHour:    50,
			CreditsPerDay:     100,
		},
		TierStarter: {
			RequestsPerMinute: 30,
			RequestsPerHour:   500,
			RequestsPerDay:    2000,
			CreditsPerHour:    200,
			CreditsPerDay:     500,
		},
		TierProfessional: {
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			RequestsPerDay:    5000,
			CreditsPerHour:    500,
			CreditsPerDay:     2000,
		},
		TierBusiness: {
			RequestsPerMinute: 120,
			RequestsPerHour:   2000,
			RequestsPerDay:    10000,
			CreditsPerHour:    1000,
			CreditsPerDay:     5000,
		},
		TierEnterprise: {
			RequestsPerMinute: 300,
			RequestsPerHour:   5000,
			RequestsPerDay:    25000,
			CreditsPerHour:    2500,
			CreditsPerDay:     10000,
		},
	}
}
