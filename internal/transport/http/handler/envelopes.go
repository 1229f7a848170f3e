package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/otp-auth-service/internal/application/auth"
	"github.com/otp-auth-service/internal/application/session"
	"github.com/otp-auth-service/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OTPRequestEnvelope acknowledges a code request. It never carries the code.
type OTPRequestEnvelope struct {
	Success   bool `json:"success"`
	ExpiresIn int  `json:"expiresIn"` // seconds until the code lapses
	Remaining int  `json:"remaining"`
}

// AuthEnvelope wraps a successful login or restoration.
type AuthEnvelope struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int    `json:"expires_in"` // seconds
	CSRFToken     string `json:"csrf_token"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	DisplayName   string `json:"displayName"`
	CustomerID    string `json:"customerId"`
}

// SessionListEnvelope wraps address-indexed session lookups.
type SessionListEnvelope struct {
	Sessions []session.SessionInfo `json:"sessions"`
	Count    int                   `json:"count"`
}

// RestoreEnvelope reports a session restoration attempt. Rejections are
// 200s with restored=false, never errors.
type RestoreEnvelope struct {
	Restored      bool          `json:"restored"`
	Message       string        `json:"message,omitempty"`
	RequiresLogin bool          `json:"requires_login,omitempty"`
	Auth          *AuthEnvelope `json:"auth,omitempty"`
}

// LimitEnvelope is the 429 body.
type LimitEnvelope struct {
	Error      string    `json:"error"`
	Scope      string    `json:"scope"`
	RetryAfter int       `json:"retry_after"`
	ResetAt    time.Time `json:"reset_at"`
}

// InvalidCodeEnvelope is the uniform 401 body for failed verifications.
type InvalidCodeEnvelope struct {
	Error             string `json:"error"`
	RemainingAttempts int    `json:"remaining_attempts"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// writeServiceError maps application errors onto HTTP responses. Unknown
// errors collapse into a generic 500 so internals never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	var limitErr *auth.LimitError
	if errors.As(err, &limitErr) {
		retry := limitErr.RetryAfter(time.Now())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, LimitEnvelope{
			Error:      "too many requests",
			Scope:      limitErr.Scope,
			RetryAfter: retry,
			ResetAt:    limitErr.ResetAt,
		})
		return
	}
	var invalid *auth.InvalidCodeError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnauthorized, InvalidCodeEnvelope{
			Error:             invalid.Error(),
			RemainingAttempts: invalid.RemainingAttempts,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad request")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func authEnvelope(token *session.IssueResult, user *domain.User, customerID string) *AuthEnvelope {
	return &AuthEnvelope{
		AccessToken:   token.AccessToken,
		TokenType:     "Bearer",
		ExpiresIn:     int(domain.TokenTTL.Seconds()),
		CSRFToken:     token.CSRFToken,
		Sub:           user.UserID,
		Email:         user.Email,
		EmailVerified: true,
		DisplayName:   user.DisplayName,
		CustomerID:    customerID,
	}
}
