package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/otp-auth-service/internal/config"
	jwtinfra "github.com/otp-auth-service/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	p, err := jwtinfra.NewProvider(&config.Config{
		AppEnv:    "production",
		JWTSecret: "unit-test-secret",
		JWTIssuer: "otp-auth-service",
	})
	require.NoError(t, err)
	return p
}

func signTestToken(t *testing.T, p *jwtinfra.Provider, admin bool) string {
	t.Helper()
	token, _, err := p.Sign(jwtinfra.SignParams{
		Subject:    "usr_1",
		Email:      "a@b.com",
		CustomerID: "cus_1",
		Admin:      admin,
		JTI:        "jti-1",
	})
	require.NoError(t, err)
	return token
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAuth_MissingHeader(t *testing.T) {
	p := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	Auth(p)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"missing or invalid authorization header"}`, rr.Body.String())
}

func TestAuth_BadToken(t *testing.T) {
	p := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rr := httptest.NewRecorder()
	Auth(p)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestAuth_WrongSecret(t *testing.T) {
	other, err := jwtinfra.NewProvider(&config.Config{
		AppEnv:    "production",
		JWTSecret: "a-different-secret",
	})
	require.NoError(t, err)
	signed := signTestToken(t, other, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(newTestProvider(t))(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_ValidToken_InjectsClaims(t *testing.T) {
	p := newTestProvider(t)
	signed := signTestToken(t, p, false)

	var gotClaims *jwtinfra.Claims
	captureHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p)(captureHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "usr_1", gotClaims.Subject)
	assert.Equal(t, "cus_1", gotClaims.CustomerID)
}

func TestRequireAdmin(t *testing.T) {
	p := newTestProvider(t)
	chain := Auth(p)(RequireAdmin()(http.HandlerFunc(okHandler)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, p, false))
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, p, true))
	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
