package adapters

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters for hashing issued bearer tokens before they're stored
// in the coordination store's key index.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Claims is what ParseBearerToken recovers from a signed bearer token.
type Claims struct {
	KeyID     string
	Subject   string
	ExpiresAt time.Time
}

// JWTTokenManager issues and verifies JWT bearer tokens keyed by an
// opaque key id, and hashes the issued token for storage using Argon2id.
type JWTTokenManager struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	algorithm jwt.SigningMethod
}

// NewJWTTokenManager creates a token manager. algorithm names a
// jwt/v5-supported signing method ("HS256", "HS384", "HS512"); unknown
// values fall back to HS256.
func NewJWTTokenManager(secret, issuer string, ttl time.Duration, algorithm string) *JWTTokenManager {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &JWTTokenManager{
		secret:    []byte(secret),
		issuer:    issuer,
		ttl:       ttl,
		algorithm: signingMethod(algorithm),
	}
}

func signingMethod(name string) jwt.SigningMethod {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// IssueBearerToken mints a signed bearer token for keyID/subject, valid
// for the manager's configured TTL.
func (m *JWTTokenManager) IssueBearerToken(keyID, subject string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	expiresAt := time.Now().Add(m.ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"kid": keyID,
		"exp": expiresAt.Unix(),
		"iss": m.issuer,
	}
	token := jwt.NewWithClaims(m.algorithm, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseBearerToken validates a bearer token's signature and expiry and
// returns its claims.
func (m *JWTTokenManager) ParseBearerToken(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token claims")
	}
	keyID, _ := claims["kid"].(string)
	subject, _ := claims["sub"].(string)
	expValue, _ := claims["exp"].(float64)
	return Claims{
		KeyID:     keyID,
		Subject:   subject,
		ExpiresAt: time.Unix(int64(expValue), 0),
	}, nil
}

// HashToken encodes token using Argon2id, for storage in APIKeyRecord.TokenHash.
func (m *JWTTokenManager) HashToken(token string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s", argonTime, argonMemory, argonThreads, b64Salt, b64Hash), nil
}

// VerifyToken compares a plain bearer token against an Argon2id-encoded hash.
func (m *JWTTokenManager) VerifyToken(token, encodedHash string) (bool, error) {
	params, salt, hash, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(token), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	if len(computed) != len(hash) {
		return false, nil
	}
	var diff byte
	for i := range computed {
		diff |= computed[i] ^ hash[i]
	}
	return diff == 0, nil
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return argonParams{}, nil, nil, fmt.Errorf("invalid hash format")
	}
	var params argonParams
	var err error
	if params.time, err = parseUint32(parts[1]); err != nil {
		return argonParams{}, nil, nil, err
	}
	if params.memory, err = parseUint32(parts[2]); err != nil {
		return argonParams{}, nil, nil, err
	}
	threads, err := parseUint32(parts[3])
	if err != nil {
		return argonParams{}, nil, nil, err
	}
	if threads == 0 || threads > 255 {
		return argonParams{}, nil, nil, fmt.Errorf("invalid thread count: must be between 1 and 255")
	}
	params.threads = uint8(threads)
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonParams{}, nil, nil, err
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argonParams{}, nil, nil, err
	}
	return params, salt, hash, nil
}

func parseUint32(value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
