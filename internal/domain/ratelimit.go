package domain

import "time"

// Rate-limit axes. Each (axis, scope key) pair owns one counter.
const (
	AxisEmail = "email"
	AxisIP    = "ip"
)

const (
	// RateWindow is the sliding-window size for request counters.
	RateWindow = time.Hour

	// DefaultEmailLimit is the per-email OTP request limit per window,
	// overridable per tenant.
	DefaultEmailLimit = 3
	// DefaultIPLimit is the per-IP OTP request limit per window.
	DefaultIPLimit = 10
	// RestoreIPLimit is the more lenient per-IP limit for session lookup
	// and restore traffic (automated app initialization).
	RestoreIPLimit = 60
)

// RateLimitCounter is a fixed-window counter with its own reset time.
// Increments are read-modify-write; a handful of over-admits under heavy
// concurrency is an accepted tradeoff.
type RateLimitCounter struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// QuotaCounter tracks a tenant's request volume against plan caps.
type QuotaCounter struct {
	Count int `json:"count"`
}

// PlanQuota holds the daily and monthly OTP request caps for a plan.
type PlanQuota struct {
	Daily   int
	Monthly int
}

// QuotaForPlan returns the request caps for a plan name. Unknown plans get
// the free-plan caps.
func QuotaForPlan(plan string) PlanQuota {
	switch plan {
	case PlanStarter:
		return PlanQuota{Daily: 1_000, Monthly: 10_000}
	case PlanPro:
		return PlanQuota{Daily: 10_000, Monthly: 200_000}
	default:
		return PlanQuota{Daily: 100, Monthly: 1_000}
	}
}
