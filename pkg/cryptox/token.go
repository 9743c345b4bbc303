package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
)

// fingerprintLen is the number of base64url characters kept by ShortFingerprint.
const fingerprintLen = 12

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// This lets logs and snapshots refer to a bearer token or ticket without
// carrying the original value.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ShortFingerprint is a truncated FingerprintToken for log lines.
// Empty tokens map to the empty string.
func ShortFingerprint(token string) string {
	if token == "" {
		return ""
	}
	return FingerprintToken(token)[:fingerprintLen]
}
