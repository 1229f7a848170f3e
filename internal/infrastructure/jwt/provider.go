package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/otp-auth-service/internal/config"
)

// Claims holds the JWT payload fields. The audience carries the tenant id;
// tenant isolation is expressed through it and through key prefixing in
// storage, not through per-tenant signing keys.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	CustomerID    string `json:"customer_id,omitempty"`
	CSRF          string `json:"csrf,omitempty"`
	Admin         bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 JWTs with a single tenant-independent secret.
type Provider struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// SignParams are the inputs for a token issuance.
type SignParams struct {
	Subject    string // user id
	TenantID   string // audience; empty for the legacy namespace
	Email      string
	CustomerID string
	CSRF       string
	Admin      bool
	JTI        string
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	if cfg.JWTSecret == "" {
		if !cfg.Development() {
			return nil, errors.New("JWT_SECRET is not set; generate one (e.g. openssl rand -hex 32) and set it in the environment")
		}
		// Deterministic dev-only fallback so local stacks boot without setup.
		return &Provider{secret: []byte("dev-only-insecure-secret"), issuer: cfg.JWTIssuer, expiry: 7 * time.Hour}, nil
	}
	return &Provider{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer, expiry: 7 * time.Hour}, nil
}

// Expiry returns the configured token lifetime.
func (p *Provider) Expiry() time.Duration { return p.expiry }

func (p *Provider) Sign(params SignParams) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(p.expiry)
	claims := Claims{
		Email:         params.Email,
		EmailVerified: true,
		CustomerID:    params.CustomerID,
		CSRF:          params.CSRF,
		Admin:         params.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   params.Subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        params.JTI,
		},
	}
	if params.TenantID != "" {
		claims.Audience = jwt.ClaimStrings{params.TenantID}
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(p.secret)
	return token, expiresAt, err
}

// Verify checks signature, expiry and required-claim presence. It is a pure
// function with no side effects.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("missing required claims")
	}
	return claims, nil
}
