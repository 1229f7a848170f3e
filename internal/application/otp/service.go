// Package otp owns the one-time-passcode lifecycle: issue, retrieve,
// verify. Records live in the KV store under a salted email digest; a
// "latest pointer" key makes each new code supersede the previous one.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/kv"
	"github.com/otp-auth-service/internal/pkg/emails"
	"github.com/otp-auth-service/internal/pkg/id"
)

// Verification outcomes. Externally every failure except Locked collapses
// into one generic "invalid or expired" response; the distinction exists
// only for internal bookkeeping and tests.
type Status int

const (
	StatusOK Status = iota
	StatusInvalid
	StatusExpired
	StatusLocked
)

// VerifyResult reports a verification outcome. RemainingAttempts is only
// meaningful for StatusInvalid.
type VerifyResult struct {
	Status            Status
	RemainingAttempts int
}

// IssueResult carries the issued code back to the caller for out-of-band
// delivery. The code must never be logged or serialized into a response.
type IssueResult struct {
	Code       string
	StorageKey string
	ExpiresAt  time.Time
}

type Service struct {
	store kv.Store
	salt  string
	now   func() time.Time
}

func NewService(store kv.Store, salt string) *Service {
	return &Service{store: store, salt: salt, now: time.Now}
}

// Issue generates a fresh code for the address and swings the latest
// pointer to it. Any earlier outstanding code is implicitly superseded: its
// record lingers until its own TTL but is no longer reachable.
func (s *Service) Issue(ctx context.Context, email, tenantID string) (*IssueResult, error) {
	norm := emails.Normalize(email)
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	now := s.now()
	rec := domain.OTPRecord{
		Email:     norm,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.OTPTTL),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	hash := emails.Hash(norm, s.salt)
	recordKey := kv.TenantKey(tenantID, "otp_"+hash+"_"+id.New())
	if err := s.store.Put(ctx, recordKey, string(body), domain.OTPTTL); err != nil {
		return nil, fmt.Errorf("store otp record: %w", err)
	}
	if err := s.store.Put(ctx, s.pointerKey(tenantID, hash), recordKey, domain.OTPTTL); err != nil {
		return nil, fmt.Errorf("store otp pointer: %w", err)
	}
	return &IssueResult{Code: code, StorageKey: recordKey, ExpiresAt: rec.ExpiresAt}, nil
}

// Retrieve dereferences the latest pointer for the address. When the tenant
// scope yields nothing it falls back to the unscoped legacy namespace, for
// records written before tenant scoping existed.
func (s *Service) Retrieve(ctx context.Context, email, tenantID string) (*domain.OTPRecord, string, error) {
	hash := emails.Hash(email, s.salt)

	recordKey, err := s.store.Get(ctx, s.pointerKey(tenantID, hash))
	if errors.Is(err, kv.ErrNotFound) && tenantID != "" {
		recordKey, err = s.store.Get(ctx, s.pointerKey("", hash))
	}
	if err != nil {
		return nil, "", err
	}

	raw, err := s.store.Get(ctx, recordKey)
	if err != nil {
		return nil, "", err
	}
	var rec domain.OTPRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, "", err
	}
	return &rec, recordKey, nil
}

// Verify consumes a code. On success the record is deleted before
// returning, enforcing single use. On mismatch the attempt counter is
// incremented and persisted; exhausting attempts destroys the record.
func (s *Service) Verify(ctx context.Context, email, code, tenantID string) (*VerifyResult, error) {
	rec, recordKey, err := s.Retrieve(ctx, email, tenantID)
	if errors.Is(err, kv.ErrNotFound) {
		return &VerifyResult{Status: StatusInvalid}, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.Attempts >= domain.OTPMaxAttempts {
		s.discard(ctx, recordKey, tenantID, email)
		return &VerifyResult{Status: StatusLocked}, nil
	}
	if rec.Expired(s.now()) {
		return &VerifyResult{Status: StatusExpired}, nil
	}

	// Constant-time over both fields; never short-circuit on the email.
	emailOK := subtle.ConstantTimeCompare([]byte(rec.Email), []byte(emails.Normalize(email)))
	codeOK := subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code))
	if emailOK&codeOK != 1 {
		rec.Attempts++
		remaining := domain.OTPMaxAttempts - rec.Attempts
		if rec.Attempts >= domain.OTPMaxAttempts {
			s.discard(ctx, recordKey, tenantID, email)
			return &VerifyResult{Status: StatusLocked}, nil
		}
		if err := s.persist(ctx, recordKey, rec); err != nil {
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}
		return &VerifyResult{Status: StatusInvalid, RemainingAttempts: remaining}, nil
	}

	s.discard(ctx, recordKey, tenantID, email)
	return &VerifyResult{Status: StatusOK}, nil
}

func (s *Service) persist(ctx context.Context, recordKey string, rec *domain.OTPRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.store.Put(ctx, recordKey, string(body), ttl)
}

func (s *Service) discard(ctx context.Context, recordKey, tenantID, email string) {
	hash := emails.Hash(email, s.salt)
	if err := s.store.Delete(ctx, recordKey); err != nil {
		slog.Warn("failed to delete otp record", "err", err)
	}
	if err := s.store.Delete(ctx, s.pointerKey(tenantID, hash)); err != nil {
		slog.Warn("failed to delete otp pointer", "err", err)
	}
}

func (s *Service) pointerKey(tenantID, emailHash string) string {
	return kv.TenantKey(tenantID, "otplatest_"+emailHash)
}

// generateCode produces a fixed-length numeric code from a CSPRNG. The
// all-zeros string is reserved as a known-invalid probe and never issued.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < domain.OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	for {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code := fmt.Sprintf("%0*d", domain.OTPLength, n)
		if code != strings.Repeat("0", domain.OTPLength) {
			return code, nil
		}
	}
}
