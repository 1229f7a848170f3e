package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable by
// creation time and safe for use as storage keys.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewCustomerID generates a customer identifier. The prefix keeps customer
// ids recognizable in logs and key listings.
func NewCustomerID() string {
	return "cus_" + New()
}
