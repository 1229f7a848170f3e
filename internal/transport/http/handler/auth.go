package handler

import (
	"encoding/json"
	"net/http"

	"github.com/otp-auth-service/internal/application/auth"
	"github.com/otp-auth-service/internal/application/session"
	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/pkg/fingerprint"
	"github.com/otp-auth-service/internal/pkg/validate"
	"github.com/otp-auth-service/internal/transport/http/middleware"
)

// AuthHandler handles the login endpoints.
type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// RequestOTP issues a passcode and delivers it by email. The response body
// acknowledges delivery without revealing the code.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Var(req.Email, "required,email"); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	res, err := h.svc.RequestOTP(r.Context(), req.Email, middleware.ClientIP(r), middleware.TenantFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPRequestEnvelope{
		Success:   true,
		ExpiresIn: int(domain.OTPTTL.Seconds()),
		Remaining: res.Remaining,
	})
}

// VerifyOTP exchanges a code for a signed token and session.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Var(req.Email, "required,email"); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if err := validate.Var(req.OTP, "required,numeric"); err != nil {
		writeError(w, http.StatusBadRequest, "a numeric otp is required")
		return
	}

	res, err := h.svc.VerifyOTP(r.Context(),
		req.Email, req.OTP,
		middleware.ClientIP(r), fingerprint.FromRequest(r),
		middleware.TenantFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authEnvelope(res.Token, res.User, res.Customer.CustomerID))
}

// RestoreSession re-issues a session bound to the caller's address and
// device. Rejections are 200 responses with restored=false.
func (h *AuthHandler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RestoreSession(r.Context(), middleware.ClientIP(r), fingerprint.FromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !res.Restored {
		writeJSON(w, http.StatusOK, RestoreEnvelope{
			Message:       res.Message,
			RequiresLogin: res.RequiresLogin,
		})
		return
	}
	writeJSON(w, http.StatusOK, RestoreEnvelope{
		Restored: true,
		Auth:     authEnvelope(res.Token, res.User, res.CustomerID),
	})
}

// SessionHandler handles session introspection and teardown.
type SessionHandler struct {
	sessions SessionService
	accounts AccountService
}

func NewSessionHandler(sessions SessionService, accounts AccountService) *SessionHandler {
	return &SessionHandler{sessions: sessions, accounts: accounts}
}

// Me returns the authenticated caller's own record.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.accounts.GetUser(r.Context(), claims.Subject, tenantID(claims.Audience))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		domain.PublicUser
		Email      string `json:"email"`
		CustomerID string `json:"customer_id,omitempty"`
	}{
		PublicUser: user.Public(),
		Email:      user.Email,
		CustomerID: claims.CustomerID,
	})
}

// SessionByIP lists the address-indexed sessions with sensitive fields
// stripped. Callers may query their own address; any other address
// requires the admin claim.
func (h *SessionHandler) SessionByIP(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	own := middleware.ClientIP(r)
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = own
	}
	if ip != own && !claims.Admin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	infos, err := h.sessions.LookupByIP(r.Context(), ip)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if infos == nil {
		infos = []session.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, SessionListEnvelope{Sessions: infos, Count: len(infos)})
}

// Logout destroys the caller's session and its address index entry.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.sessions.Logout(r.Context(), claims.Subject, tenantID(claims.Audience), middleware.ClientIP(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

func tenantID(audience []string) string {
	if len(audience) == 0 {
		return ""
	}
	return audience[0]
}
