package domain

import "errors"

var (
	// ErrInvalidCredentials indicates the issue-key password didn't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrKeyNotFound indicates the bearer token has no matching key record.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrKeyRevoked indicates the key record exists but is no longer active.
	ErrKeyRevoked = errors.New("api key revoked")
	// ErrKeyExpired indicates the bearer token's signature is valid but it has expired.
	ErrKeyExpired = errors.New("api key expired")
)
