// Package ratelimit enforces sliding-window request limits per email and
// per IP, plus daily/monthly tenant quotas sourced from the plan. Counters
// are read-modify-write without locks; a handful of over-admits under heavy
// concurrency is an accepted tradeoff. Storage failures on this path fail
// open: availability beats strict enforcement for limiting.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/kv"
)

// Result reports a limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Service struct {
	store  kv.Store
	policy kv.FailMode // FailOpen on this path, by design
	now    func() time.Time
}

func NewService(store kv.Store) *Service {
	return &Service{store: store, policy: kv.FailOpen, now: time.Now}
}

// CheckAndConsume reads the (axis, scope) counter, starting a fresh window
// when absent or past reset. The first call in a window always succeeds.
// Denials do not increment the counter.
func (s *Service) CheckAndConsume(ctx context.Context, tenantID, axis, scopeKey string, limit int) (Result, error) {
	key := kv.TenantKey(tenantID, "ratelimit_"+axis+"_"+scopeKey)
	now := s.now()

	counter, err := s.getCounter(ctx, key)
	if err != nil {
		// Fail open: a broken store must not lock every user out.
		slog.Warn("rate limit check failed, admitting request", "axis", axis, "policy", s.policy.String(), "err", err)
		return Result{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(domain.RateWindow)}, nil
	}

	if counter == nil || now.After(counter.ResetAt) {
		fresh := domain.RateLimitCounter{Count: 1, ResetAt: now.Add(domain.RateWindow)}
		if err := s.putCounter(ctx, key, fresh); err != nil {
			slog.Warn("rate limit counter write failed", "axis", axis, "policy", s.policy.String(), "err", err)
		}
		return Result{Allowed: true, Remaining: limit - 1, ResetAt: fresh.ResetAt}, nil
	}

	if counter.Count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: counter.ResetAt}, nil
	}

	counter.Count++
	if err := s.putCounter(ctx, key, *counter); err != nil {
		slog.Warn("rate limit counter write failed", "axis", axis, "policy", s.policy.String(), "err", err)
	}
	return Result{Allowed: true, Remaining: limit - counter.Count, ResetAt: counter.ResetAt}, nil
}

// ConsumeQuota checks and consumes one unit of the tenant's daily and
// monthly quota. Legacy unscoped requests carry no quota.
func (s *Service) ConsumeQuota(ctx context.Context, tenantID, plan string) (Result, error) {
	if tenantID == "" {
		return Result{Allowed: true, Remaining: -1}, nil
	}
	caps := domain.QuotaForPlan(plan)
	now := s.now()

	daily, err := s.consumePeriod(ctx, tenantID, "daily", now.UTC().Format("20060102"), caps.Daily, endOfDay(now))
	if err != nil || !daily.Allowed {
		return daily, err
	}
	monthly, err := s.consumePeriod(ctx, tenantID, "monthly", now.UTC().Format("200601"), caps.Monthly, endOfMonth(now))
	if err != nil || !monthly.Allowed {
		return monthly, err
	}
	if monthly.Remaining < daily.Remaining {
		return monthly, nil
	}
	return daily, nil
}

func (s *Service) consumePeriod(ctx context.Context, tenantID, period, stamp string, limit int, resetAt time.Time) (Result, error) {
	key := kv.TenantKey(tenantID, "quota_"+period+"_"+stamp)
	raw, err := s.store.Get(ctx, key)
	var q domain.QuotaCounter
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		slog.Warn("quota check failed, admitting request", "period", period, "policy", s.policy.String(), "err", err)
		return Result{Allowed: true, Remaining: limit - 1, ResetAt: resetAt}, nil
	default:
		if uerr := json.Unmarshal([]byte(raw), &q); uerr != nil {
			slog.Warn("corrupt quota counter, resetting", "key", key, "err", uerr)
			q = domain.QuotaCounter{}
		}
	}

	if q.Count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	q.Count++
	body, _ := json.Marshal(q)
	ttl := resetAt.Sub(s.now()) + time.Hour
	if err := s.store.Put(ctx, key, string(body), ttl); err != nil {
		slog.Warn("quota counter write failed", "period", period, "policy", s.policy.String(), "err", err)
	}
	return Result{Allowed: true, Remaining: limit - q.Count, ResetAt: resetAt}, nil
}

// RecordOutcome is a best-effort statistics update. It never blocks or
// fails the request path.
func (s *Service) RecordOutcome(ctx context.Context, axis, scopeKey string, success bool) {
	day := s.now().UTC().Format("20060102")
	key := "stats_" + axis + "_" + day

	var stats struct {
		Success int `json:"success"`
		Failure int `json:"failure"`
	}
	if raw, err := s.store.Get(ctx, key); err == nil {
		_ = json.Unmarshal([]byte(raw), &stats)
	}
	if success {
		stats.Success++
	} else {
		stats.Failure++
	}
	body, _ := json.Marshal(stats)
	if err := s.store.Put(ctx, key, string(body), 48*time.Hour); err != nil {
		slog.Warn("stats update failed", "axis", axis, "err", err)
	}
}

// Clear removes the counters matching the given scope keys, in both the
// tenant and legacy namespaces. Used by the admin debug endpoint.
func (s *Service) Clear(ctx context.Context, tenantID, axis, scopeKey string) error {
	suffix := "ratelimit_" + axis + "_" + scopeKey
	for _, key := range []string{kv.TenantKey(tenantID, suffix), suffix} {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s counter: %w", axis, err)
		}
	}
	return nil
}

func (s *Service) getCounter(ctx context.Context, key string) (*domain.RateLimitCounter, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.RateLimitCounter
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) putCounter(ctx context.Context, key string, c domain.RateLimitCounter) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, string(body), domain.RateWindow)
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func endOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
