// Package security implements the watermark engine's own protection
// surface: scoped API key issuance as JWTs, a deployment security-posture
// audit, and content provenance certificates binding a piece of content
// to its originating model and the deployment key.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope is the permission level an API key grants.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

var (
	ErrKeyNotFound = errors.New("security: api key not found")
	ErrKeyRevoked  = errors.New("security: api key revoked")
	ErrKeyExpired  = errors.New("security: api key expired")
	ErrTokenInvalid = errors.New("security: token invalid")
)

// Claims is the JWT payload carried by an issued API key.
type Claims struct {
	Scope   Scope  `json:"scope"`
	KeyID   string `json:"key_id"`
	jwt.RegisteredClaims
}

// IssuedKey is returned once, at issuance time, and is never retrievable
// again — only the non-secret KeyRecord is retained after this.
type IssuedKey struct {
	Token     string    `json:"api_key"`
	KeyID     string    `json:"key_id"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"created"`
	ExpiresAt time.Time `json:"expires"`
}

// KeyRecord is the retained, non-secret record of an issued key.
type KeyRecord struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"created"`
	ExpiresAt time.Time `json:"expires"`
	Revoked   bool      `json:"revoked"`
}

// KeyManager issues and validates scoped API keys as signed JWTs, and
// tracks an in-memory revocation/epoch ledger rather than a persisted
// store.
type KeyManager struct {
	mu     sync.RWMutex
	secret []byte
	keys   map[string]*KeyRecord

	rotationEpoch  int
	lastRotatedAt  time.Time
	twoFactorOn    bool
	antiScrapingOn bool
	webhookURL     string
	entropyLevel   string
	rateLimitRPM   int
	scrape         scrapeTracker
}

// NewKeyManager builds a KeyManager signing tokens with secret — normally
// the same operational key the watermark payload's HMAC uses.
func NewKeyManager(secret []byte) *KeyManager {
	return &KeyManager{
		secret:       secret,
		keys:         make(map[string]*KeyRecord),
		entropyLevel: "standard",
		rateLimitRPM: 60,
	}
}

// Issue mints a new scoped API key valid for expiresIn, signed as a JWT.
func (m *KeyManager) Issue(scope Scope, expiresIn time.Duration) (IssuedKey, error) {
	if expiresIn <= 0 {
		expiresIn = 30 * 24 * time.Hour
	}

	id, err := randomHex(8)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("security: generate key id: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(expiresIn)

	claims := Claims{
		Scope: scope,
		KeyID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "aegis-watermark",
			Subject:   id,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("security: sign key: %w", err)
	}

	record := &KeyRecord{ID: id, Scope: scope, CreatedAt: now, ExpiresAt: expires}
	m.mu.Lock()
	m.keys[id] = record
	m.mu.Unlock()

	return IssuedKey{
		Token:     signed,
		KeyID:     id,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: expires,
	}, nil
}

// Validate parses and checks a token: signature, expiry, and whether its
// key id has been revoked.
func (m *KeyManager) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("security: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	m.mu.RLock()
	record, found := m.keys[claims.KeyID]
	m.mu.RUnlock()
	if !found {
		return nil, ErrKeyNotFound
	}
	if record.Revoked {
		return nil, ErrKeyRevoked
	}

	return claims, nil
}

// Revoke marks a key id as no longer usable.
func (m *KeyManager) Revoke(keyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, found := m.keys[keyID]
	if !found {
		return false
	}
	record.Revoked = true
	return true
}

// List returns every issued key's non-secret record.
func (m *KeyManager) List() []KeyRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]KeyRecord, 0, len(m.keys))
	for _, r := range m.keys {
		out = append(out, *r)
	}
	return out
}

// Rotate bumps the key-rotation epoch. The operational secret itself is
// unchanged so existing watermarks stay verifiable; this only records
// that an operator-initiated rotation happened, for the audit check.
func (m *KeyManager) Rotate() (epoch int, rotatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotationEpoch++
	m.lastRotatedAt = time.Now().UTC()
	return m.rotationEpoch, m.lastRotatedAt
}

// SetTwoFactor, SetAntiScraping, SetWebhook, and SetEntropyLevel adjust
// the mutable posture flags the audit scores against.
func (m *KeyManager) SetTwoFactor(on bool)      { m.mu.Lock(); m.twoFactorOn = on; m.mu.Unlock() }
func (m *KeyManager) SetAntiScraping(on bool)   { m.mu.Lock(); m.antiScrapingOn = on; m.mu.Unlock() }
func (m *KeyManager) SetWebhook(url string)     { m.mu.Lock(); m.webhookURL = url; m.mu.Unlock() }
func (m *KeyManager) SetEntropyLevel(level string) {
	m.mu.Lock()
	m.entropyLevel = strings.ToLower(level)
	m.mu.Unlock()
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hmacHex is shared with the provenance/audit code in this package.
func hmacHex(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
