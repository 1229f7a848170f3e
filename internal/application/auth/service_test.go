package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/otp-auth-service/internal/application/account"
	"github.com/otp-auth-service/internal/application/names"
	"github.com/otp-auth-service/internal/application/otp"
	"github.com/otp-auth-service/internal/application/ratelimit"
	"github.com/otp-auth-service/internal/application/session"
	"github.com/otp-auth-service/internal/config"
	"github.com/otp-auth-service/internal/domain"
	jwtinfra "github.com/otp-auth-service/internal/infrastructure/jwt"
	"github.com/otp-auth-service/internal/infrastructure/sns"
	"github.com/otp-auth-service/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSalt = "test-salt"

var codePattern = regexp.MustCompile(`\d{9}`)

type fakeMailer struct {
	to, subject, body string
	sent              int
	err               error
}

func (m *fakeMailer) SendEmail(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.to, m.subject, m.body = to, subject, body
	m.sent++
	return nil
}

type fakeNotifier struct {
	events []sns.Event
}

func (n *fakeNotifier) Publish(_ context.Context, ev sns.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func newTestStack(t *testing.T, store kv.Store) (*Service, *fakeMailer, *fakeNotifier) {
	t.Helper()
	provider, err := jwtinfra.NewProvider(&config.Config{
		AppEnv:    "production",
		JWTSecret: "unit-test-secret",
		JWTIssuer: "otp-auth-service",
	})
	require.NoError(t, err)

	accounts := account.NewService(store, names.NewAllocator(store), testSalt)
	sessions := session.NewService(store, provider, accounts, testSalt)
	mailer := &fakeMailer{}
	notifier := &fakeNotifier{}
	svc := NewService(
		otp.NewService(store, testSalt),
		ratelimit.NewService(store),
		accounts,
		sessions,
		mailer,
		notifier,
		testSalt,
	)
	return svc, mailer, notifier
}

func TestRequestOTP_DeliversCodeByEmail(t *testing.T) {
	svc, mailer, notifier := newTestStack(t, kv.NewMemory())

	res, err := svc.RequestOTP(context.Background(), "User@Example.com", "198.51.100.7", nil)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", mailer.to)
	code := codePattern.FindString(mailer.body)
	require.Len(t, code, domain.OTPLength, "body carries the full code")
	assert.Contains(t, mailer.body, "10 minutes")
	assert.Equal(t, domain.DefaultEmailLimit-1, res.Remaining)
	assert.WithinDuration(t, time.Now().Add(domain.OTPTTL), res.ExpiresAt, time.Minute)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "otp.requested", notifier.events[0].Type)
}

func TestRequestOTP_EmailWindowExhausts(t *testing.T) {
	svc, _, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	for i := 0; i < domain.DefaultEmailLimit; i++ {
		_, err := svc.RequestOTP(ctx, "a@b.com", "198.51.100.7", nil)
		require.NoError(t, err, "request %d within the window", i+1)
	}

	_, err := svc.RequestOTP(ctx, "a@b.com", "198.51.100.7", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, LimitScopeEmail, limitErr.Scope)
	assert.Positive(t, limitErr.RetryAfter(time.Now()))
}

func TestRequestOTP_IPWindowCoversManyEmails(t *testing.T) {
	svc, _, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	for i := 0; i < domain.DefaultIPLimit; i++ {
		_, err := svc.RequestOTP(ctx, fmt.Sprintf("u%d@b.com", i), "198.51.100.7", nil)
		require.NoError(t, err)
	}

	_, err := svc.RequestOTP(ctx, "one-more@b.com", "198.51.100.7", nil)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, LimitScopeIP, limitErr.Scope)
}

func TestRequestOTP_TenantOverridesEmailLimit(t *testing.T) {
	svc, _, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	tenant := &domain.Customer{
		CustomerID: "cus_t1",
		Status:     domain.CustomerStatusActive,
		Plan:       domain.PlanPro,
		Config: domain.CustomerConfig{
			RateLimits: domain.RateLimitConfig{OTPPerEmailHour: 5},
		},
	}

	for i := 0; i < 5; i++ {
		_, err := svc.RequestOTP(ctx, "a@b.com", "198.51.100.7", tenant)
		require.NoError(t, err, "override admits request %d", i+1)
	}
	_, err := svc.RequestOTP(ctx, "a@b.com", "198.51.100.7", tenant)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRequestOTP_QuotaExhausted(t *testing.T) {
	store := kv.NewMemory()
	svc, _, _ := newTestStack(t, store)
	ctx := context.Background()

	tenant := &domain.Customer{
		CustomerID: "cus_t1",
		Status:     domain.CustomerStatusActive,
		Plan:       domain.PlanFree,
	}

	// Daily quota already at the free-plan cap.
	body, _ := json.Marshal(domain.QuotaCounter{Count: 100})
	stamp := time.Now().UTC().Format("20060102")
	require.NoError(t, store.Put(ctx, "tenant_cus_t1_quota_daily_"+stamp, string(body), 0))

	_, err := svc.RequestOTP(ctx, "a@b.com", "198.51.100.7", tenant)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, LimitScopeQuota, limitErr.Scope)
}

func TestRequestOTP_SuspendedTenantRejected(t *testing.T) {
	svc, mailer, _ := newTestStack(t, kv.NewMemory())

	tenant := &domain.Customer{CustomerID: "cus_t1", Status: domain.CustomerStatusSuspended}
	_, err := svc.RequestOTP(context.Background(), "a@b.com", "198.51.100.7", tenant)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Zero(t, mailer.sent)
}

func TestRequestOTP_DeliveryFailureSurfaces(t *testing.T) {
	svc, mailer, _ := newTestStack(t, kv.NewMemory())
	mailer.err = errors.New("smtp down")

	_, err := svc.RequestOTP(context.Background(), "a@b.com", "198.51.100.7", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRateLimited)
}

func requestCode(t *testing.T, svc *Service, mailer *fakeMailer, email, ip string, tenant *domain.Customer) string {
	t.Helper()
	_, err := svc.RequestOTP(context.Background(), email, ip, tenant)
	require.NoError(t, err)
	code := codePattern.FindString(mailer.body)
	require.NotEmpty(t, code)
	return code
}

func TestVerifyOTP_HappyPath(t *testing.T) {
	svc, mailer, notifier := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	code := requestCode(t, svc, mailer, "a@b.com", "198.51.100.7", nil)

	res, err := svc.VerifyOTP(ctx, "a@b.com", code, "198.51.100.7", "dev1", nil)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", res.User.Email)
	assert.NotEmpty(t, res.User.DisplayName)
	assert.Equal(t, domain.CustomerStatusActive, res.Customer.Status)
	assert.NotEmpty(t, res.Token.AccessToken)
	assert.NotEmpty(t, res.Token.CSRFToken)

	types := []string{}
	for _, ev := range notifier.events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, "login.succeeded")
}

func TestVerifyOTP_CodeIsSingleUse(t *testing.T) {
	svc, mailer, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	code := requestCode(t, svc, mailer, "a@b.com", "198.51.100.7", nil)

	_, err := svc.VerifyOTP(ctx, "a@b.com", code, "198.51.100.7", "dev1", nil)
	require.NoError(t, err)

	_, err = svc.VerifyOTP(ctx, "a@b.com", code, "198.51.100.7", "dev1", nil)
	var invalid *InvalidCodeError
	assert.ErrorAs(t, err, &invalid)
}

func TestVerifyOTP_WrongAndUnknownLookIdentical(t *testing.T) {
	svc, mailer, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	requestCode(t, svc, mailer, "a@b.com", "198.51.100.7", nil)

	_, errWrong := svc.VerifyOTP(ctx, "a@b.com", "111111111", "198.51.100.7", "dev1", nil)
	_, errUnknown := svc.VerifyOTP(ctx, "nobody@b.com", "111111111", "198.51.100.7", "dev1", nil)

	var w, u *InvalidCodeError
	require.ErrorAs(t, errWrong, &w)
	require.ErrorAs(t, errUnknown, &u)
	assert.Equal(t, w.Error(), u.Error(), "rejection message never reveals whether a code exists")
}

func TestVerifyOTP_AttemptExhaustionLocks(t *testing.T) {
	svc, mailer, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	requestCode(t, svc, mailer, "a@b.com", "198.51.100.7", nil)

	for i := 0; i < domain.OTPMaxAttempts-1; i++ {
		_, err := svc.VerifyOTP(ctx, "a@b.com", "111111111", "198.51.100.7", "dev1", nil)
		var invalid *InvalidCodeError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, domain.OTPMaxAttempts-1-i, invalid.RemainingAttempts)
	}

	_, err := svc.VerifyOTP(ctx, "a@b.com", "111111111", "198.51.100.7", "dev1", nil)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, LimitScopeAttempts, limitErr.Scope)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestVerifyOTP_TenantScopedLogin(t *testing.T) {
	svc, mailer, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	tenant := &domain.Customer{
		CustomerID: "cus_t1",
		Status:     domain.CustomerStatusActive,
		Plan:       domain.PlanStarter,
	}
	code := requestCode(t, svc, mailer, "a@b.com", "198.51.100.7", tenant)

	res, err := svc.VerifyOTP(ctx, "a@b.com", code, "198.51.100.7", "dev1", tenant)
	require.NoError(t, err)
	assert.Equal(t, "cus_t1", res.User.TenantID)
}

func TestRestoreSession_PublishesEvent(t *testing.T) {
	svc, mailer, notifier := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	code := requestCode(t, svc, mailer, "a@b.com", "198.51.100.7", nil)
	_, err := svc.VerifyOTP(ctx, "a@b.com", code, "198.51.100.7", "dev1", nil)
	require.NoError(t, err)

	res, err := svc.RestoreSession(ctx, "198.51.100.7", "dev1")
	require.NoError(t, err)
	require.True(t, res.Restored)

	types := []string{}
	for _, ev := range notifier.events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, "session.restored")
}

func TestRestoreSession_LooseIPWindow(t *testing.T) {
	svc, _, _ := newTestStack(t, kv.NewMemory())
	ctx := context.Background()

	for i := 0; i < domain.RestoreIPLimit; i++ {
		_, err := svc.RestoreSession(ctx, "203.0.113.1", "dev1")
		require.NoError(t, err, "restore attempt %d", i+1)
	}

	_, err := svc.RestoreSession(ctx, "203.0.113.1", "dev1")
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, LimitScopeIP, limitErr.Scope)
}

func TestRestoreSession_RejectionIsNotAnError(t *testing.T) {
	svc, _, notifier := newTestStack(t, kv.NewMemory())

	res, err := svc.RestoreSession(context.Background(), "203.0.113.1", "dev1")
	require.NoError(t, err)
	assert.False(t, res.Restored)
	assert.Empty(t, notifier.events)
}
