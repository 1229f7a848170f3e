package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/otp-auth-service/internal/transport/http/middleware"
)

// UserHandler handles user lookup endpoints.
type UserHandler struct {
	accounts AccountService
}

func NewUserHandler(accounts AccountService) *UserHandler {
	return &UserHandler{accounts: accounts}
}

// Get returns the enumeration-safe projection of a user: display name only,
// never the email. The lookup is public; IDs are derived from a salted
// digest, so guessing them yields nothing useful either way.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}

	tenant := ""
	if c := middleware.TenantFromContext(r.Context()); c != nil {
		tenant = c.CustomerID
	}
	user, err := h.accounts.GetUser(r.Context(), userID, tenant)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}
