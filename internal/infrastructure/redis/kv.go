package redis

import (
	"context"
	"errors"
	"time"

	"github.com/otp-auth-service/internal/config"
	"github.com/otp-auth-service/internal/kv"
	"github.com/redis/go-redis/v9"
)

// KV implements kv.Store on Redis. TTLs map directly onto key expiry;
// PutIfAbsent maps onto SETNX.
type KV struct {
	client *redis.Client
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func NewKV(client *redis.Client) *KV {
	return &KV{client: client}
}

func (s *KV) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", kv.ErrNotFound
	}
	return v, err
}

func (s *KV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *KV) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return kv.ErrKeyExists
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *KV) ListPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", int64(limit)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
