// Package auth orchestrates the two login operations: requesting a code
// and exchanging it for a session. It layers quota and rate-limit checks
// in front of the passcode lifecycle and account reconciliation behind it.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/otp-auth-service/internal/application/account"
	"github.com/otp-auth-service/internal/application/otp"
	"github.com/otp-auth-service/internal/application/ratelimit"
	"github.com/otp-auth-service/internal/application/session"
	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/infrastructure/smtp"
	"github.com/otp-auth-service/internal/infrastructure/sns"
	"github.com/otp-auth-service/internal/pkg/emails"
	"github.com/otp-auth-service/internal/pkg/fingerprint"
)

// Limit scopes reported by LimitError.
const (
	LimitScopeQuota    = "quota"
	LimitScopeEmail    = "email"
	LimitScopeIP       = "ip"
	LimitScopeAttempts = "attempts"
)

// LimitError reports which limit rejected the request and when it resets.
type LimitError struct {
	Scope     string
	Remaining int
	ResetAt   time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded", e.Scope)
}

func (e *LimitError) Unwrap() error { return domain.ErrRateLimited }

// RetryAfter returns the whole seconds until the limit resets, at least 1.
func (e *LimitError) RetryAfter(now time.Time) int {
	secs := int(e.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// InvalidCodeError is the single rejection shape for wrong, expired, and
// unknown codes. Callers must not reveal which case occurred.
type InvalidCodeError struct {
	RemainingAttempts int
}

func (e *InvalidCodeError) Error() string { return "invalid or expired code" }

func (e *InvalidCodeError) Unwrap() error { return domain.ErrUnauthorized }

// RequestResult is returned after a code was issued and queued for
// delivery. It never contains the code.
type RequestResult struct {
	ExpiresAt time.Time
	Remaining int
}

// LoginResult is a successful code exchange.
type LoginResult struct {
	Token    *session.IssueResult
	User     *domain.User
	Customer *domain.Customer
}

type Service struct {
	otps     *otp.Service
	limits   *ratelimit.Service
	accounts *account.Service
	sessions *session.Service
	mailer   smtp.Mailer
	notifier sns.Notifier
	salt     string
	now      func() time.Time
}

// NewService wires the orchestrator. notifier may be nil when no event
// fan-out is configured.
func NewService(
	otps *otp.Service,
	limits *ratelimit.Service,
	accounts *account.Service,
	sessions *session.Service,
	mailer smtp.Mailer,
	notifier sns.Notifier,
	salt string,
) *Service {
	return &Service{
		otps:     otps,
		limits:   limits,
		accounts: accounts,
		sessions: sessions,
		mailer:   mailer,
		notifier: notifier,
		salt:     salt,
		now:      time.Now,
	}
}

// RequestOTP issues a passcode for the address and delivers it by email.
// Checks run cheapest-reject first: plan quota, then the per-email window,
// then the per-IP window. tenant is nil on legacy unscoped requests.
func (s *Service) RequestOTP(ctx context.Context, email, ip string, tenant *domain.Customer) (*RequestResult, error) {
	tenantID, plan := tenantIdentity(tenant)
	if tenant != nil && !tenant.IsActive() {
		return nil, fmt.Errorf("tenant %s is suspended: %w", tenantID, domain.ErrForbidden)
	}

	quota, err := s.limits.ConsumeQuota(ctx, tenantID, plan)
	if err != nil {
		return nil, err
	}
	if !quota.Allowed {
		return nil, &LimitError{Scope: LimitScopeQuota, ResetAt: quota.ResetAt}
	}

	emailLimit, ipLimit := effectiveLimits(tenant)
	perEmail, err := s.limits.CheckAndConsume(ctx, tenantID, domain.AxisEmail, emails.Hash(email, s.salt), emailLimit)
	if err != nil {
		return nil, err
	}
	if !perEmail.Allowed {
		s.limits.RecordOutcome(ctx, domain.AxisEmail, "request", false)
		return nil, &LimitError{Scope: LimitScopeEmail, ResetAt: perEmail.ResetAt}
	}
	perIP, err := s.limits.CheckAndConsume(ctx, tenantID, domain.AxisIP, fingerprint.HashIP(ip), ipLimit)
	if err != nil {
		return nil, err
	}
	if !perIP.Allowed {
		s.limits.RecordOutcome(ctx, domain.AxisIP, "request", false)
		return nil, &LimitError{Scope: LimitScopeIP, ResetAt: perIP.ResetAt}
	}

	issued, err := s.otps.Issue(ctx, email, tenantID)
	if err != nil {
		return nil, err
	}

	template := ""
	if tenant != nil {
		template = tenant.Config.EmailTemplate
	}
	minutes := int(domain.OTPTTL.Minutes())
	body := smtp.RenderOTPBody(template, issued.Code, minutes)
	if err := s.mailer.SendEmail(emails.Normalize(email), "Your verification code", body); err != nil {
		return nil, fmt.Errorf("deliver otp email: %w", err)
	}

	s.publish(ctx, sns.Event{Type: "otp.requested", TenantID: tenantID})
	s.limits.RecordOutcome(ctx, domain.AxisEmail, "request", true)

	return &RequestResult{ExpiresAt: issued.ExpiresAt, Remaining: perEmail.Remaining}, nil
}

// VerifyOTP exchanges a code for a session. Every rejection is uniform
// except attempt exhaustion, which surfaces as a limit error so callers
// can distinguish "slow down" from "wrong code".
func (s *Service) VerifyOTP(ctx context.Context, email, code, ip, deviceHash string, tenant *domain.Customer) (*LoginResult, error) {
	tenantID, _ := tenantIdentity(tenant)
	if tenant != nil && !tenant.IsActive() {
		return nil, fmt.Errorf("tenant %s is suspended: %w", tenantID, domain.ErrForbidden)
	}

	_, ipLimit := effectiveLimits(tenant)
	perIP, err := s.limits.CheckAndConsume(ctx, tenantID, domain.AxisIP, fingerprint.HashIP(ip), ipLimit)
	if err != nil {
		return nil, err
	}
	if !perIP.Allowed {
		return nil, &LimitError{Scope: LimitScopeIP, ResetAt: perIP.ResetAt}
	}

	res, err := s.otps.Verify(ctx, email, code, tenantID)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case otp.StatusOK:
	case otp.StatusLocked:
		s.limits.RecordOutcome(ctx, domain.AxisEmail, "verify", false)
		return nil, &LimitError{Scope: LimitScopeAttempts, ResetAt: s.now().Add(domain.OTPTTL)}
	default:
		s.limits.RecordOutcome(ctx, domain.AxisEmail, "verify", false)
		return nil, &InvalidCodeError{RemainingAttempts: res.RemainingAttempts}
	}

	// A fresh login has no candidate id; the email mapping decides.
	customer, err := s.accounts.EnsureAccount(ctx, email, "")
	if err != nil {
		return nil, fmt.Errorf("reconcile account: %w", err)
	}
	user, err := s.accounts.EnsureUser(ctx, email, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reconcile user: %w", err)
	}

	token, err := s.sessions.Issue(ctx, user, customer, tenantID, ip, deviceHash)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, sns.Event{
		Type:       "login.succeeded",
		CustomerID: customer.CustomerID,
		UserID:     user.UserID,
		TenantID:   tenantID,
	})
	s.limits.RecordOutcome(ctx, domain.AxisEmail, "verify", true)

	return &LoginResult{Token: token, User: user, Customer: customer}, nil
}

// RestoreSession re-issues a session for the caller's address. Restoration
// runs on every app start, so its per-IP window is far looser than the
// login one.
func (s *Service) RestoreSession(ctx context.Context, ip, deviceHash string) (*session.RestoreResult, error) {
	perIP, err := s.limits.CheckAndConsume(ctx, "", domain.AxisIP, "restore_"+fingerprint.HashIP(ip), domain.RestoreIPLimit)
	if err != nil {
		return nil, err
	}
	if !perIP.Allowed {
		return nil, &LimitError{Scope: LimitScopeIP, ResetAt: perIP.ResetAt}
	}

	res, err := s.sessions.Restore(ctx, ip, deviceHash)
	if err != nil {
		return nil, err
	}
	if res.Restored {
		s.publish(ctx, sns.Event{
			Type:       "session.restored",
			CustomerID: res.CustomerID,
			UserID:     res.User.UserID,
		})
	}
	return res, nil
}

func (s *Service) publish(ctx context.Context, ev sns.Event) {
	if s.notifier == nil {
		return
	}
	ev.At = s.now().UTC()
	if err := s.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("auth event publish failed", "type", ev.Type, "err", err)
	}
}

func tenantIdentity(tenant *domain.Customer) (tenantID, plan string) {
	if tenant == nil {
		return "", domain.PlanFree
	}
	return tenant.CustomerID, tenant.Plan
}

// effectiveLimits resolves window limits from tenant overrides, falling
// back to the platform defaults.
func effectiveLimits(tenant *domain.Customer) (email, ip int) {
	email, ip = domain.DefaultEmailLimit, domain.DefaultIPLimit
	if tenant == nil {
		return email, ip
	}
	if v := tenant.Config.RateLimits.OTPPerEmailHour; v > 0 {
		email = v
	}
	if v := tenant.Config.RateLimits.OTPPerIPHour; v > 0 {
		ip = v
	}
	return email, ip
}
