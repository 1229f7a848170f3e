// Package names generates and reserves globally-unique human-readable
// display names. Reservations are create-if-absent writes with no TTL and
// are never recycled, even if the owning account later lapses, so a name
// can never silently change hands.
package names

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/otp-auth-service/internal/kv"
)

var adjectives = []string{
	"amber", "bold", "brisk", "calm", "clever", "crisp", "eager", "fleet",
	"gentle", "keen", "lucid", "mellow", "nimble", "quiet", "rapid", "solid",
	"swift", "tidy", "vivid", "warm",
}

var nouns = []string{
	"falcon", "harbor", "lantern", "maple", "meadow", "otter", "pebble",
	"pine", "raven", "reef", "ridge", "river", "sparrow", "summit", "tern",
	"thicket", "tide", "trail", "willow", "wren",
}

// Allocator reserves display names against the KV store.
type Allocator struct {
	store kv.Store
}

func NewAllocator(store kv.Store) *Allocator {
	return &Allocator{store: store}
}

// GenerateUnique produces a candidate name and atomically reserves it,
// regenerating on collision up to maxAttempts times. The name space is
// large enough that exhaustion indicates something is badly wrong, so it
// is a hard error.
func (a *Allocator) GenerateUnique(ctx context.Context, scope string, maxAttempts int) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		name, err := candidate()
		if err != nil {
			return "", err
		}
		err = a.store.PutIfAbsent(ctx, reservationKey(scope, name), "1", 0)
		if errors.Is(err, kv.ErrKeyExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve display name: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("display name allocation exhausted after %d attempts", maxAttempts)
}

// Reserve claims a specific name, for tests and migrations.
func (a *Allocator) Reserve(ctx context.Context, scope, name string) error {
	return a.store.PutIfAbsent(ctx, reservationKey(scope, name), "1", 0)
}

func reservationKey(scope, name string) string {
	key := "displayname_" + strings.ToLower(name)
	if scope != "" {
		key = scope + "_" + key
	}
	return key
}

func candidate() (string, error) {
	adj, err := pick(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := pick(nouns)
	if err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%d", adj, noun, n), nil
}

func pick(list []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(list))))
	if err != nil {
		return "", err
	}
	return list[n.Int64()], nil
}
