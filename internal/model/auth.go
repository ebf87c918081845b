package model

import "time"

// APIKeyRecord is C2's volatile record of an issued bearer token. Keyed by
// an opaque key id distinct from the bearer token itself, so the token
// value never needs to be listed back to a caller.
type APIKeyRecord struct {
	KeyID       string
	TokenHash   string // argon2id hash of the issued bearer token
	Subject     string
	Description string
	CreatedAt   time.Time
	LastUsedAt  time.Time
	Active      bool
}

// RateLimitCounter is C2's per-client-IP request counter with a 60-second
// expiring window.
type RateLimitCounter struct {
	ClientIP  string
	Count     int
	ExpiresAt time.Time
}

// Exceeded reports whether Count is greater than limit.
func (c RateLimitCounter) Exceeded(limit int) bool {
	return c.Count > limit
}
