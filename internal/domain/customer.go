package domain

import "time"

const (
	CustomerStatusActive    = "active"
	CustomerStatusSuspended = "suspended"

	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
)

// Customer is a tenant record. CustomerID is immutable once assigned.
type Customer struct {
	CustomerID    string         `json:"customer_id"`
	Email         string         `json:"email,omitempty"`
	DisplayName   string         `json:"display_name"`
	Status        string         `json:"status"` // "active" | "suspended"
	Plan          string         `json:"plan"`
	Subscriptions []string       `json:"subscriptions"`
	Config        CustomerConfig `json:"config"`
	Features      map[string]bool `json:"features,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CustomerConfig holds per-tenant overrides for limits and integrations.
type CustomerConfig struct {
	RateLimits     RateLimitConfig `json:"rate_limits"`
	WebhookURL     string          `json:"webhook_url,omitempty"`
	AllowedOrigins []string        `json:"allowed_origins,omitempty"`
	EmailTemplate  string          `json:"email_template,omitempty"`
}

// RateLimitConfig is the per-tenant rate-limit override. Zero values mean
// "use the plan default".
type RateLimitConfig struct {
	OTPPerEmailHour int `json:"otp_per_email_hour,omitempty"`
	OTPPerIPHour    int `json:"otp_per_ip_hour,omitempty"`
}

// FeatureAdmin marks a customer whose tokens carry the admin claim.
const FeatureAdmin = "admin"

// IsActive reports whether the customer may authenticate users.
func (c *Customer) IsActive() bool {
	return c.Status == CustomerStatusActive
}
