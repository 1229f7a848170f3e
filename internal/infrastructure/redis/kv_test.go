package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/otp-auth-service/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewKV(client), mr
}

func TestKV_PutGetDelete(t *testing.T) {
	s, _ := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "1", 0))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKV_TTL(t *testing.T) {
	s, mr := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "1", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKV_PutIfAbsent(t *testing.T) {
	s, _ := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "a", "1", 0))
	assert.ErrorIs(t, s.PutIfAbsent(ctx, "a", "2", 0), kv.ErrKeyExists)

	v, _ := s.Get(ctx, "a")
	assert.Equal(t, "1", v)
}

func TestKV_ListPrefix(t *testing.T) {
	s, _ := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "otp_a", "1", 0))
	require.NoError(t, s.Put(ctx, "otp_b", "1", 0))
	require.NoError(t, s.Put(ctx, "session_x", "1", 0))

	keys, err := s.ListPrefix(ctx, "otp_", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"otp_a", "otp_b"}, keys)
}
