package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters kept by TokenFingerprint.
const fingerprintLen = 16

// HashToken returns the hex-encoded SHA-256 of a bearer token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenFingerprint returns a short, non-reversible identifier for a token, safe for logs and audit
// rows. Raw refresh tokens must never be logged.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	return HashToken(token)[:fingerprintLen]
}
