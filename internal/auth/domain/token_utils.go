package domain

import (
	"crypto/sha256"
	"encoding/base64"
)

// FingerprintToken returns a deterministic fingerprint for a bearer token.
// The fingerprint is safe to store in the coordination store and can be
// used for indexed lookups (e.g. the key id) without revealing the
// original token value.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
