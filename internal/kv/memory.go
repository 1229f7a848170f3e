package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// Memory is an in-process Store used by tests and local development.
// Now is overridable so tests can step through TTL expiry.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry), Now: time.Now}
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && m.Now().After(e.expiresAt)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || m.expired(e) {
		delete(m.items, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.entry(value, ttl)
	return nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok && !m.expired(e) {
		return ErrKeyExists
	}
	m.items[key] = m.entry(value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) ListPrefix(_ context.Context, prefix string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.items {
		if strings.HasPrefix(k, prefix) && !m.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *Memory) entry(value string, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	return e
}
