// Package account reconciles customer (tenant) records against the
// eventually-consistent store: lookup-or-create-or-repair, idempotent and
// safe under concurrent callers, without transactions. Account existence is
// a hard requirement of login, so unlike the rate-limit path this package
// fails closed on persistence errors.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/otp-auth-service/internal/application/names"
	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/kv"
	"github.com/otp-auth-service/internal/pkg/emails"
	"github.com/otp-auth-service/internal/pkg/id"
)

const (
	reconfirmAttempts = 3
	reconfirmBaseWait = 100 * time.Millisecond
)

type Service struct {
	store kv.Store
	names *names.Allocator
	salt  string
	now   func() time.Time
	sleep func(time.Duration)
}

func NewService(store kv.Store, allocator *names.Allocator, salt string) *Service {
	return &Service{
		store: store,
		names: allocator,
		salt:  salt,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// EnsureAccount guarantees a valid, active customer record exists for the
// email and returns it. candidateID, when supplied (e.g. from a prior
// token), is tried first. The email→id mapping is authoritative: when two
// concurrent first logins race to create, the mapping reservation decides
// the winner and the loser adopts it.
func (s *Service) EnsureAccount(ctx context.Context, email, candidateID string) (*domain.Customer, error) {
	norm := emails.Normalize(email)

	if candidateID != "" {
		if c, err := s.getCustomer(ctx, candidateID); err == nil {
			return s.repair(ctx, c)
		} else if !errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("lookup customer %s: %w", candidateID, err)
		}
	}

	customerID, err := s.store.Get(ctx, s.mappingKey(norm))
	switch {
	case err == nil:
		c, gerr := s.getCustomer(ctx, customerID)
		if gerr == nil {
			return s.repair(ctx, c)
		}
		if !errors.Is(gerr, kv.ErrNotFound) {
			return nil, fmt.Errorf("lookup customer by email: %w", gerr)
		}
		// Dangling mapping: the record write may still be propagating, or
		// was lost. Recreate under the mapped id so the id stays stable.
		return s.create(ctx, norm, customerID)
	case errors.Is(err, kv.ErrNotFound):
		return s.create(ctx, norm, "")
	default:
		return nil, fmt.Errorf("lookup email mapping: %w", err)
	}
}

// repair reactivates a suspended record and backfills required fields that
// older records may lack. Present values are never overwritten.
func (s *Service) repair(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	changed := false

	if c.Status == domain.CustomerStatusSuspended {
		c.Status = domain.CustomerStatusActive
		changed = true
	}
	if c.DisplayName == "" {
		name, err := s.names.GenerateUnique(ctx, "", 10)
		if err != nil {
			return nil, err
		}
		c.DisplayName = name
		changed = true
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []string{"auth"}
		changed = true
	}
	if c.Plan == "" {
		c.Plan = domain.PlanFree
		changed = true
	}
	if c.Config.RateLimits.OTPPerEmailHour == 0 {
		c.Config.RateLimits.OTPPerEmailHour = domain.DefaultEmailLimit
		changed = true
	}

	if changed {
		c.UpdatedAt = s.now().UTC()
		if err := s.putCustomer(ctx, c); err != nil {
			return nil, fmt.Errorf("repair customer %s: %w", c.CustomerID, err)
		}
	}
	return c, nil
}

// create builds a complete default record and claims the email mapping.
// forcedID reuses an id recovered from a dangling mapping.
func (s *Service) create(ctx context.Context, norm, forcedID string) (*domain.Customer, error) {
	customerID := forcedID
	if customerID == "" {
		customerID = id.NewCustomerID()
	}

	// The mapping is the authoritative write: reserve it first so a
	// concurrent creator cannot leave two records claiming one email, and
	// so no display name is burned on a lost race. A forced id means the
	// mapping already exists and points at us.
	if forcedID == "" {
		err := s.store.PutIfAbsent(ctx, s.mappingKey(norm), customerID, 0)
		if errors.Is(err, kv.ErrKeyExists) {
			return s.adoptWinner(ctx, norm)
		}
		if err != nil {
			return nil, fmt.Errorf("reserve email mapping: %w", err)
		}
	}

	displayName, err := s.names.GenerateUnique(ctx, "", 10)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &domain.Customer{
		CustomerID:    customerID,
		Email:         norm,
		DisplayName:   displayName,
		Status:        domain.CustomerStatusActive,
		Plan:          domain.PlanFree,
		Subscriptions: []string{"auth"},
		Config: domain.CustomerConfig{
			RateLimits: domain.RateLimitConfig{OTPPerEmailHour: domain.DefaultEmailLimit},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.putCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	s.reconfirm(ctx, norm)
	return c, nil
}

// adoptWinner resolves a creation race by reading the mapping the winner
// wrote. The store may still be propagating it, so reads are retried.
func (s *Service) adoptWinner(ctx context.Context, norm string) (*domain.Customer, error) {
	var lastErr error
	for attempt := 0; attempt < reconfirmAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(reconfirmBaseWait << (attempt - 1))
		}
		customerID, err := s.store.Get(ctx, s.mappingKey(norm))
		if err != nil {
			lastErr = err
			continue
		}
		c, err := s.getCustomer(ctx, customerID)
		if err != nil {
			lastErr = err
			continue
		}
		return c, nil
	}
	return nil, fmt.Errorf("adopt concurrent customer creation: %w", lastErr)
}

// reconfirm re-reads the mapping after creation to confirm visibility,
// compensating for propagation delay. If the write is still invisible the
// login proceeds anyway; the record's existence matters more than blocking
// the user.
func (s *Service) reconfirm(ctx context.Context, norm string) {
	for attempt := 0; attempt < reconfirmAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(reconfirmBaseWait << (attempt - 1))
		}
		if _, err := s.store.Get(ctx, s.mappingKey(norm)); err == nil {
			return
		}
	}
	slog.Warn("customer mapping not yet visible after create", "attempts", reconfirmAttempts)
}

// EnsureUser creates the end-user record on first login and updates
// lastLogin (plus backfills) on every subsequent one. The user id is
// derived from the email, so replays converge on one record.
func (s *Service) EnsureUser(ctx context.Context, email, tenantID string) (*domain.User, error) {
	norm := emails.Normalize(email)
	userID := emails.UserID(norm, s.salt)
	key := kv.TenantKey(tenantID, "user_"+userID)
	now := s.now().UTC()

	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) && tenantID != "" {
		raw, err = s.store.Get(ctx, "user_"+userID)
	}
	switch {
	case err == nil:
		var u domain.User
		if uerr := json.Unmarshal([]byte(raw), &u); uerr != nil {
			return nil, fmt.Errorf("decode user %s: %w", userID, uerr)
		}
		u.LastLogin = now
		if u.DisplayName == "" {
			name, nerr := s.names.GenerateUnique(ctx, "", 10)
			if nerr != nil {
				return nil, nerr
			}
			u.DisplayName = name
		}
		if u.TenantID == "" && tenantID != "" {
			u.TenantID = tenantID
		}
		return &u, s.putUser(ctx, key, &u)
	case errors.Is(err, kv.ErrNotFound):
		name, nerr := s.names.GenerateUnique(ctx, "", 10)
		if nerr != nil {
			return nil, nerr
		}
		u := domain.User{
			UserID:      userID,
			Email:       norm,
			DisplayName: name,
			TenantID:    tenantID,
			CreatedAt:   now,
			LastLogin:   now,
		}
		return &u, s.putUser(ctx, key, &u)
	default:
		return nil, fmt.Errorf("lookup user: %w", err)
	}
}

// GetUser loads a user by id, checking the tenant scope then the legacy
// namespace.
func (s *Service) GetUser(ctx context.Context, userID, tenantID string) (*domain.User, error) {
	raw, err := s.store.Get(ctx, kv.TenantKey(tenantID, "user_"+userID))
	if errors.Is(err, kv.ErrNotFound) && tenantID != "" {
		raw, err = s.store.Get(ctx, "user_"+userID)
	}
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var u domain.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) getCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	raw, err := s.store.Get(ctx, "customer_"+customerID)
	if err != nil {
		return nil, err
	}
	var c domain.Customer
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode customer %s: %w", customerID, err)
	}
	return &c, nil
}

func (s *Service) putCustomer(ctx context.Context, c *domain.Customer) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, "customer_"+c.CustomerID, string(body), 0)
}

func (s *Service) putUser(ctx context.Context, key string, u *domain.User) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, string(body), 0)
}

func (s *Service) mappingKey(norm string) string {
	return "customeremail_" + emails.Hash(norm, s.salt)
}
