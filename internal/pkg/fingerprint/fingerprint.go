// Package fingerprint derives a stable device hash from request
// characteristics. The hash binds restored sessions to the client instance
// that created them without storing any raw header values.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// headers folded into the fingerprint, in order. Values are lowercased so
// proxy-dependent casing does not change the digest.
var headers = []string{"User-Agent", "Accept-Language", "Accept-Encoding"}

// FromRequest derives the device fingerprint hash for a request. Requests
// with none of the source headers yield an empty string, which stored
// sessions treat as "no fingerprint recorded".
func FromRequest(r *http.Request) string {
	var parts []string
	for _, h := range headers {
		if v := r.Header.Get(h); v != "" {
			parts = append(parts, strings.ToLower(v))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// HashIP returns the hex SHA-256 of a network address, used as the IP
// session index key component.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
