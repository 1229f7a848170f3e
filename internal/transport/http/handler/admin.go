package handler

import (
	"encoding/json"
	"net/http"

	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/pkg/emails"
	"github.com/otp-auth-service/internal/pkg/fingerprint"
	"github.com/otp-auth-service/internal/pkg/validate"
	"github.com/otp-auth-service/internal/transport/http/middleware"
)

// AdminHandler handles operator debug endpoints.
type AdminHandler struct {
	limits LimitAdmin
	salt   string
}

func NewAdminHandler(limits LimitAdmin, salt string) *AdminHandler {
	return &AdminHandler{limits: limits, salt: salt}
}

// ClearRateLimit drops the window counters for a raw email and/or address,
// in the caller's tenant namespace and the legacy one. The handler derives
// the salted scope keys itself; operators never see the hashing scheme.
// Support tooling uses this to unstick users who burned their window
// during testing.
func (h *AdminHandler) ClearRateLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		IP       string `json:"ip"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" && req.IP == "" {
		writeError(w, http.StatusBadRequest, "email or ip required")
		return
	}

	tenant := req.TenantID
	if tenant == "" {
		if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
			tenant = tenantID(claims.Audience)
		}
	}

	if req.Email != "" {
		if err := validate.Var(req.Email, "email"); err != nil {
			writeError(w, http.StatusBadRequest, "a valid email is required")
			return
		}
		if err := h.limits.Clear(r.Context(), tenant, domain.AxisEmail, emails.Hash(req.Email, h.salt)); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.IP != "" {
		ipHash := fingerprint.HashIP(req.IP)
		for _, scope := range []string{ipHash, "restore_" + ipHash} {
			if err := h.limits.Clear(r.Context(), tenant, domain.AxisIP, scope); err != nil {
				writeServiceError(w, err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "rate limit cleared"})
}
