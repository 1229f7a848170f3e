package handler

import (
	"context"

	"github.com/otp-auth-service/internal/application/session"
	"github.com/otp-auth-service/internal/domain"
)

// SessionService is the minimal surface the session endpoints require.
type SessionService interface {
	LookupByIP(ctx context.Context, ip string) ([]session.SessionInfo, error)
	Logout(ctx context.Context, userID, tenantID, ip string) error
}

// AccountService is the minimal surface the user endpoints require.
type AccountService interface {
	GetUser(ctx context.Context, userID, tenantID string) (*domain.User, error)
}

// LimitAdmin is the minimal surface the admin endpoints require.
type LimitAdmin interface {
	Clear(ctx context.Context, tenantID, axis, scopeKey string) error
}
