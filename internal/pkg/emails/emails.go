// Package emails normalizes addresses and derives the salted digests used
// as storage-key components, so raw addresses never appear in key names.
package emails

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize lowercases and trims an address. All storage and comparison go
// through the normalized form.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Hash returns the hex SHA-256 of the salted normalized address.
func Hash(email, salt string) string {
	sum := sha256.Sum256([]byte(salt + Normalize(email)))
	return hex.EncodeToString(sum[:])
}

// UserID derives the deterministic user identifier for an address. Two
// concurrent first logins for the same email converge on the same id.
func UserID(email, salt string) string {
	sum := sha256.Sum256([]byte(salt + "user:" + Normalize(email)))
	return "usr_" + hex.EncodeToString(sum[:16])
}
