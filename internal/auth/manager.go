// Package auth issues and verifies the bearer tokens gating the
// feature-flagged write endpoints (§6's POST routes). It deliberately
// knows nothing about HTTP or the coordination store's wire format —
// internal/httpapi adapts this into middleware, internal/coordination
// satisfies KeyStore.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yunfie-twitter/ytdlp-api/internal/auth/adapters"
	"github.com/yunfie-twitter/ytdlp-api/internal/auth/domain"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
)

// KeyStore is the C2 slice auth depends on: the auth-key index described
// in SPEC_FULL §3/§4.2. internal/coordination implements this.
type KeyStore interface {
	PutKey(ctx context.Context, record model.APIKeyRecord, ttl time.Duration) error
	GetKey(ctx context.Context, keyID string) (model.APIKeyRecord, error)
	DeleteKey(ctx context.Context, keyID string) error
}

// Verifier is the narrow read-only contract internal/httpapi's middleware
// depends on.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (model.APIKeyRecord, error)
}

// Manager issues, verifies, and revokes bearer tokens.
type Manager struct {
	store        KeyStore
	tokens       *adapters.JWTTokenManager
	issuePassword string
	ttl          time.Duration
}

// Config configures a Manager.
type Config struct {
	Secret        string
	Issuer        string
	Algorithm     string // "HS256" (default), "HS384", "HS512"
	TTL           time.Duration
	IssuePassword string // API_KEY_ISSUE_PASSWORD gate on IssueKey
}

// NewManager builds a Manager backed by store.
func NewManager(store KeyStore, cfg Config) *Manager {
	return &Manager{
		store:         store,
		tokens:        adapters.NewJWTTokenManager(cfg.Secret, cfg.Issuer, cfg.TTL, cfg.Algorithm),
		issuePassword: cfg.IssuePassword,
		ttl:           cfg.TTL,
	}
}

// IssueKey mints a new bearer token for subject, gated by password matching
// the configured API_KEY_ISSUE_PASSWORD. Returns the plaintext token —
// callers must capture it now, only its hash is persisted.
func (m *Manager) IssueKey(ctx context.Context, password, subject, description string) (token string, record model.APIKeyRecord, err error) {
	if m.issuePassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(m.issuePassword)) != 1 {
		return "", model.APIKeyRecord{}, domain.ErrInvalidCredentials
	}

	keyID := domain.FingerprintToken(subject + description + time.Now().String())
	signed, expiresAt, err := m.tokens.IssueBearerToken(keyID, subject)
	if err != nil {
		return "", model.APIKeyRecord{}, err
	}
	hash, err := m.tokens.HashToken(signed)
	if err != nil {
		return "", model.APIKeyRecord{}, err
	}

	now := time.Now()
	record = model.APIKeyRecord{
		KeyID:       keyID,
		TokenHash:   hash,
		Subject:     subject,
		Description: description,
		CreatedAt:   now,
		LastUsedAt:  now,
		Active:      true,
	}

	// TTL = bearer expiry + 1 day, per SPEC_FULL §3.
	ttl := time.Until(expiresAt) + 24*time.Hour
	if err := m.store.PutKey(ctx, record, ttl); err != nil {
		return "", model.APIKeyRecord{}, err
	}
	return signed, record, nil
}

// Verify checks a bearer token's signature, expiry, and active key record.
func (m *Manager) Verify(ctx context.Context, bearerToken string) (model.APIKeyRecord, error) {
	claims, err := m.tokens.ParseBearerToken(bearerToken)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return model.APIKeyRecord{}, domain.ErrKeyExpired
	}
	if err != nil {
		return model.APIKeyRecord{}, domain.ErrKeyNotFound
	}
	if time.Now().After(claims.ExpiresAt) {
		return model.APIKeyRecord{}, domain.ErrKeyExpired
	}

	record, err := m.store.GetKey(ctx, claims.KeyID)
	if err != nil {
		return model.APIKeyRecord{}, domain.ErrKeyNotFound
	}
	if !record.Active {
		return model.APIKeyRecord{}, domain.ErrKeyRevoked
	}
	ok, err := m.tokens.VerifyToken(bearerToken, record.TokenHash)
	if err != nil || !ok {
		return model.APIKeyRecord{}, domain.ErrKeyNotFound
	}
	return record, nil
}

// RevokeKey deletes the key record for bearerToken's key id, per SPEC_FULL
// §3 ("Revocation = delete").
func (m *Manager) RevokeKey(ctx context.Context, bearerToken string) error {
	claims, err := m.tokens.ParseBearerToken(bearerToken)
	if err != nil {
		return domain.ErrKeyNotFound
	}
	return m.store.DeleteKey(ctx, claims.KeyID)
}

var _ Verifier = (*Manager)(nil)
