package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/otp-auth-service/internal/domain"
	"github.com/otp-auth-service/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every operation, for fail-open tests.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("store down")
}
func (brokenStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) PutIfAbsent(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Delete(context.Context, string) error { return errors.New("store down") }
func (brokenStore) ListPrefix(context.Context, string, int) ([]string, error) {
	return nil, errors.New("store down")
}

func TestCheckAndConsume_WindowOfThree(t *testing.T) {
	svc := NewService(kv.NewMemory())
	ctx := context.Background()

	var remaining []int
	var outcomes []bool
	for i := 0; i < 4; i++ {
		res, err := svc.CheckAndConsume(ctx, "t1", domain.AxisEmail, "hash1", 3)
		require.NoError(t, err)
		outcomes = append(outcomes, res.Allowed)
		remaining = append(remaining, res.Remaining)
	}

	assert.Equal(t, []bool{true, true, true, false}, outcomes)
	assert.Equal(t, []int{2, 1, 0, 0}, remaining)
}

func TestCheckAndConsume_WindowReset(t *testing.T) {
	store := kv.NewMemory()
	svc := NewService(store)
	ctx := context.Background()

	now := time.Now()
	svc.now = func() time.Time { return now }
	store.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		res, err := svc.CheckAndConsume(ctx, "", domain.AxisIP, "ip1", 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := svc.CheckAndConsume(ctx, "", domain.AxisIP, "ip1", 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	now = now.Add(domain.RateWindow + time.Minute)
	res, err = svc.CheckAndConsume(ctx, "", domain.AxisIP, "ip1", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a fresh window admits again")
	assert.Equal(t, 2, res.Remaining)
}

func TestCheckAndConsume_ScopesAreIndependent(t *testing.T) {
	svc := NewService(kv.NewMemory())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CheckAndConsume(ctx, "t1", domain.AxisEmail, "a", 3)
		require.NoError(t, err)
	}
	res, err := svc.CheckAndConsume(ctx, "t1", domain.AxisEmail, "b", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Same hash under another tenant is its own counter.
	res, err = svc.CheckAndConsume(ctx, "t2", domain.AxisEmail, "a", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckAndConsume_FailsOpenOnStorageError(t *testing.T) {
	svc := NewService(brokenStore{})

	res, err := svc.CheckAndConsume(context.Background(), "t1", domain.AxisEmail, "x", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestConsumeQuota_DailyCap(t *testing.T) {
	svc := NewService(kv.NewMemory())
	ctx := context.Background()

	caps := domain.QuotaForPlan(domain.PlanFree)
	for i := 0; i < caps.Daily; i++ {
		res, err := svc.ConsumeQuota(ctx, "t1", domain.PlanFree)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d within quota", i)
	}
	res, err := svc.ConsumeQuota(ctx, "t1", domain.PlanFree)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestConsumeQuota_NoTenantNoQuota(t *testing.T) {
	svc := NewService(brokenStore{})
	res, err := svc.ConsumeQuota(context.Background(), "", domain.PlanFree)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestClear_ResetsCounter(t *testing.T) {
	svc := NewService(kv.NewMemory())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CheckAndConsume(ctx, "t1", domain.AxisEmail, "h", 3)
		require.NoError(t, err)
	}
	res, _ := svc.CheckAndConsume(ctx, "t1", domain.AxisEmail, "h", 3)
	require.False(t, res.Allowed)

	require.NoError(t, svc.Clear(ctx, "t1", domain.AxisEmail, "h"))

	res, err := svc.CheckAndConsume(ctx, "t1", domain.AxisEmail, "h", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRecordOutcome_NeverPanicsOnBrokenStore(t *testing.T) {
	svc := NewService(brokenStore{})
	svc.RecordOutcome(context.Background(), domain.AxisEmail, "x", true)
	svc.RecordOutcome(context.Background(), domain.AxisEmail, "x", false)
}
