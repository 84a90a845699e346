// Package auth holds the shared secret that guards the conversion routes and
// the signed tokens derived from it.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoKey is returned when tokens are requested but no secret is loaded.
var ErrNoKey = errors.New("api key not configured")

// Key is the single shared secret loaded at start-up.
type Key struct {
	secret string
}

// Load reads the secret from path. A missing file is not an error: the key
// stays empty and every request then fails authentication.
func Load(path string) (*Key, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("api key file not found, all requests will be rejected", "path", path)
		return &Key{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read api key: %w", err)
	}
	return NewKey(string(b)), nil
}

// NewKey wraps secret, trimming surrounding whitespace.
func NewKey(secret string) *Key {
	return &Key{secret: strings.TrimSpace(secret)}
}

// Empty reports whether no secret is configured.
func (k *Key) Empty() bool {
	return k == nil || k.secret == ""
}

// Match compares token with the secret in constant time. An empty key never
// matches.
func (k *Key) Match(token string) bool {
	if k.Empty() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(k.secret), []byte(strings.TrimSpace(token))) == 1
}

// IssueToken creates a signed JWT that authenticates like the key itself
// until it expires.
func (k *Key) IssueToken(subject string, ttl time.Duration) (string, error) {
	if k.Empty() {
		return "", ErrNoKey
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(k.secret))
}

// ValidToken reports whether raw is an unexpired HS256 token signed with the
// key.
func (k *Key) ValidToken(raw string) bool {
	if k.Empty() || raw == "" {
		return false
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(k.secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return err == nil && token.Valid
}
