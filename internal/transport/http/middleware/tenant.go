package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/kv"
)

// APIKeyHeader carries the tenant's key on every scoped request. Requests
// without it run in the legacy unscoped namespace.
const APIKeyHeader = "X-OTP-API-Key"

const tenantKey contextKey = "tenant"

// Tenant returns middleware that resolves the API key header to a customer
// record and injects it into context. A missing header is allowed; a key
// that resolves to nothing is rejected so callers notice revoked keys.
func Tenant(store kv.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			customer, err := resolve(r.Context(), store, apiKey)
			if errors.Is(err, kv.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			if err != nil {
				slog.Error("api key resolution failed", "err", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), tenantKey, customer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(ctx context.Context, store kv.Store, apiKey string) (*domain.Customer, error) {
	sum := sha256.Sum256([]byte(apiKey))
	customerID, err := store.Get(ctx, "apikey_"+hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, err
	}
	raw, err := store.Get(ctx, "customer_"+customerID)
	if err != nil {
		return nil, err
	}
	var c domain.Customer
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TenantFromContext extracts the resolved tenant, nil for legacy requests.
func TenantFromContext(ctx context.Context) *domain.Customer {
	c, _ := ctx.Value(tenantKey).(*domain.Customer)
	return c
}

// RegisterAPIKey stores the mapping from a raw API key to a customer id.
// Only the key's digest is persisted.
func RegisterAPIKey(ctx context.Context, store kv.Store, apiKey, customerID string) error {
	sum := sha256.Sum256([]byte(apiKey))
	return store.Put(ctx, "apikey_"+hex.EncodeToString(sum[:]), customerID, 0)
}
