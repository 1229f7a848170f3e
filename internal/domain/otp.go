package domain

import "time"

const (
	// OTPLength is the number of digits in an issued code.
	OTPLength = 9
	// OTPMaxAttempts is the number of failed verifications before the
	// record is destroyed.
	OTPMaxAttempts = 5
	// OTPTTL is how long an issued code stays valid.
	OTPTTL = 10 * time.Minute
)

// OTPRecord is a pending one-time passcode. The code is never logged and
// never returned in any response.
type OTPRecord struct {
	Email     string    `json:"email"` // normalized
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

func (r *OTPRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
