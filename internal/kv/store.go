package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("kv: key not found")
	ErrKeyExists = errors.New("kv: key already exists")
)

// Store is the minimal contract the service requires from its backing
// key-value store. Implementations are eventually consistent: a Put may not
// be visible to an immediately following Get, even from the same caller.
// Values are JSON documents stored as strings.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Put writes a value. A zero ttl means the key does not expire.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// PutIfAbsent writes a value only when the key does not exist,
	// returning ErrKeyExists otherwise. Used for reservations.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ListPrefix returns keys beginning with prefix, up to limit.
	ListPrefix(ctx context.Context, prefix string, limit int) ([]string, error)
}

// TenantKey scopes a storage key to a tenant. An empty tenant ID yields the
// bare (legacy) key; the unscoped namespace predates tenant scoping and is
// still consulted as a read fallback.
func TenantKey(tenantID, key string) string {
	if tenantID == "" {
		return key
	}
	return "tenant_" + tenantID + "_" + key
}
