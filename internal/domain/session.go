package domain

import "time"

// TokenTTL is the access-token and session lifetime.
const TokenTTL = 7 * time.Hour

// SessionRecord is the persisted side of an issued token. Only a one-way
// hash of the token is stored, never the token itself.
type SessionRecord struct {
	UserID          string    `json:"user_id"`
	CustomerID      string    `json:"customer_id"`
	EmailHash       string    `json:"email_hash"`
	TokenHash       string    `json:"token_hash"`
	IPAddress       string    `json:"ip_address"`
	FingerprintHash string    `json:"fingerprint_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (s *SessionRecord) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IPSessionIndexEntry maps a hashed network address back to the session it
// most recently issued. Stale entries are cleaned up lazily on lookup.
type IPSessionIndexEntry struct {
	SessionKey string `json:"session_key"`
	TenantID   string `json:"tenant_id,omitempty"`
}
