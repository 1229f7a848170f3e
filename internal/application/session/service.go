// Package session mints signed access tokens, persists their session
// records, and restores sessions across applications by network address
// with a device-fingerprint binding.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/otp-auth-service/internal/application/account"
	"github.com/otp-auth-service/internal/domain"
	jwtinfra "github.com/otp-auth-service/internal/infrastructure/jwt"
	"github.com/otp-auth-service/internal/kv"
	"github.com/otp-auth-service/internal/pkg/emails"
	"github.com/otp-auth-service/internal/pkg/fingerprint"
	"github.com/otp-auth-service/internal/pkg/id"
)

// IssueResult carries a freshly minted token. The raw token exists only
// here and in the response; storage keeps a one-way hash.
type IssueResult struct {
	AccessToken string
	ExpiresAt   time.Time
	CSRFToken   string
}

// RestoreResult reports a restoration attempt. Rejections are results, not
// errors: the caller gets restored=false with a reason, never a failure.
type RestoreResult struct {
	Restored      bool
	Message       string
	RequiresLogin bool
	Token         *IssueResult
	User          *domain.User
	CustomerID    string
}

// SessionInfo is the non-sensitive projection returned by IP lookups.
// It must never include the owner's email or any token material.
type SessionInfo struct {
	CustomerID string    `json:"customerId"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type Service struct {
	store    kv.Store
	jwt      *jwtinfra.Provider
	accounts *account.Service
	salt     string
	now      func() time.Time
}

func NewService(store kv.Store, provider *jwtinfra.Provider, accounts *account.Service, salt string) *Service {
	return &Service{store: store, jwt: provider, accounts: accounts, salt: salt, now: time.Now}
}

// Issue signs a token for the user, overwrites the (user, tenant) session
// record with the token's hash, and points the IP index at it.
func (s *Service) Issue(ctx context.Context, user *domain.User, customer *domain.Customer, tenantID, ip, deviceHash string) (*IssueResult, error) {
	csrf, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate csrf token: %w", err)
	}

	token, expiresAt, err := s.jwt.Sign(jwtinfra.SignParams{
		Subject:    user.UserID,
		TenantID:   tenantID,
		Email:      user.Email,
		CustomerID: customer.CustomerID,
		CSRF:       csrf,
		Admin:      customer.Features[domain.FeatureAdmin],
		JTI:        id.New(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	now := s.now().UTC()
	rec := domain.SessionRecord{
		UserID:          user.UserID,
		CustomerID:      customer.CustomerID,
		EmailHash:       emails.Hash(user.Email, s.salt),
		TokenHash:       hashToken(token),
		IPAddress:       ip,
		FingerprintHash: deviceHash,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	sessionKey := kv.TenantKey(tenantID, "session_"+user.UserID)
	if err := s.store.Put(ctx, sessionKey, string(body), domain.TokenTTL); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	// The index write is best-effort: a missing index only disables
	// restoration, it does not invalidate the login.
	entry, _ := json.Marshal(domain.IPSessionIndexEntry{SessionKey: sessionKey, TenantID: tenantID})
	if err := s.store.Put(ctx, ipIndexKey(ip), string(entry), domain.TokenTTL); err != nil {
		slog.Warn("ip session index write failed", "err", err)
	}

	return &IssueResult{AccessToken: token, ExpiresAt: expiresAt, CSRFToken: csrf}, nil
}

// Restore re-issues a session for the caller's address. The stored session
// must be live, bound to the same address, and to the same device when a
// fingerprint was recorded. Sessions predating fingerprinting restore
// leniently. A fresh token is always minted; the original is never
// returned.
func (s *Service) Restore(ctx context.Context, ip, deviceHash string) (*RestoreResult, error) {
	entry, rec, err := s.deref(ctx, ip)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return noSession(), nil
	}

	if rec.Expired(s.now()) {
		s.evict(ctx, ip)
		return &RestoreResult{Message: "session expired", RequiresLogin: true}, nil
	}
	if rec.IPAddress != ip {
		return &RestoreResult{Message: "address mismatch", RequiresLogin: true}, nil
	}
	if rec.FingerprintHash != "" && rec.FingerprintHash != deviceHash {
		return &RestoreResult{Message: "device mismatch", RequiresLogin: true}, nil
	}

	user, err := s.accounts.GetUser(ctx, rec.UserID, entry.TenantID)
	if err != nil {
		// The index pointed at a session whose user is gone: stale.
		s.evict(ctx, ip)
		return noSession(), nil
	}

	customer, err := s.accounts.EnsureAccount(ctx, user.Email, rec.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("reconcile account on restore: %w", err)
	}

	token, err := s.Issue(ctx, user, customer, entry.TenantID, ip, deviceHash)
	if err != nil {
		return nil, err
	}
	return &RestoreResult{
		Restored:   true,
		Token:      token,
		User:       user,
		CustomerID: customer.CustomerID,
	}, nil
}

// LookupByIP returns the live sessions indexed for an address, reduced to
// non-sensitive fields.
func (s *Service) LookupByIP(ctx context.Context, ip string) ([]SessionInfo, error) {
	_, rec, err := s.deref(ctx, ip)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(s.now()) {
		if rec != nil {
			s.evict(ctx, ip)
		}
		return nil, nil
	}
	return []SessionInfo{{
		CustomerID: rec.CustomerID,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
	}}, nil
}

// Logout deletes the caller's session record and, when the address index
// still points at it, the index entry.
func (s *Service) Logout(ctx context.Context, userID, tenantID, ip string) error {
	sessionKey := kv.TenantKey(tenantID, "session_"+userID)
	if err := s.store.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if raw, err := s.store.Get(ctx, ipIndexKey(ip)); err == nil {
		var entry domain.IPSessionIndexEntry
		if json.Unmarshal([]byte(raw), &entry) == nil && entry.SessionKey == sessionKey {
			s.evict(ctx, ip)
		}
	}
	return nil
}

// deref loads the index entry for an address and the session it points at.
// A dangling reference is cleaned up lazily and reported as no session.
func (s *Service) deref(ctx context.Context, ip string) (*domain.IPSessionIndexEntry, *domain.SessionRecord, error) {
	raw, err := s.store.Get(ctx, ipIndexKey(ip))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ip index lookup: %w", err)
	}
	var entry domain.IPSessionIndexEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.evict(ctx, ip)
		return nil, nil, nil
	}

	rawSess, err := s.store.Get(ctx, entry.SessionKey)
	if errors.Is(err, kv.ErrNotFound) {
		s.evict(ctx, ip)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session lookup: %w", err)
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal([]byte(rawSess), &rec); err != nil {
		s.evict(ctx, ip)
		return nil, nil, nil
	}
	return &entry, &rec, nil
}

func (s *Service) evict(ctx context.Context, ip string) {
	if err := s.store.Delete(ctx, ipIndexKey(ip)); err != nil {
		slog.Warn("stale ip index cleanup failed", "err", err)
	}
}

func noSession() *RestoreResult {
	return &RestoreResult{Message: "no active session for this address", RequiresLogin: true}
}

func ipIndexKey(ip string) string {
	return "ipsession_" + fingerprint.HashIP(ip)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
