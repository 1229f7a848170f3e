package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGetDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "1", 0))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_TTLExpiry(t *testing.T) {
	now := time.Now()
	s := NewMemory()
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "1", time.Minute))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PutIfAbsent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "a", "1", 0))
	err := s.PutIfAbsent(ctx, "a", "2", 0)
	assert.ErrorIs(t, err, ErrKeyExists)

	v, _ := s.Get(ctx, "a")
	assert.Equal(t, "1", v)
}

func TestMemory_PutIfAbsent_ExpiredKeyIsAbsent(t *testing.T) {
	now := time.Now()
	s := NewMemory()
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "a", "1", time.Minute))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.PutIfAbsent(ctx, "a", "2", time.Minute))

	v, _ := s.Get(ctx, "a")
	assert.Equal(t, "2", v)
}

func TestMemory_ListPrefix(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "otp_b", "1", 0))
	require.NoError(t, s.Put(ctx, "otp_a", "1", 0))
	require.NoError(t, s.Put(ctx, "session_x", "1", 0))

	keys, err := s.ListPrefix(ctx, "otp_", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"otp_a", "otp_b"}, keys)

	keys, err = s.ListPrefix(ctx, "otp_", 1)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestTenantKey(t *testing.T) {
	assert.Equal(t, "tenant_c1_otp_x", TenantKey("c1", "otp_x"))
	assert.Equal(t, "otp_x", TenantKey("", "otp_x"))
}
