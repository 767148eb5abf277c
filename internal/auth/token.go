// Package auth issues and verifies the signed tokens used for API identity and for
// time-limited blob download links.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Audiences bind a token to the surface that accepts it. Keys are derived per audience,
// so a download token can never be replayed as an API token.
const (
	AudienceAPI  = "foldervault-api"
	AudienceBlob = "foldervault-blob"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 16

var (
	// ErrInvalidToken is returned for malformed, expired or foreign tokens.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", errdefs.ErrUnauthenticated)

	errShortSecret = fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
)

// Signer issues HS256 tokens for one audience.
type Signer struct {
	audience string
	key      []byte
	now      func() time.Time
}

// NewSigner derives the audience signing key from secret.
func NewSigner(secret, audience string) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, errShortSecret
	}
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	key, err := deriveKey([]byte(secret), audience)
	if err != nil {
		return nil, err
	}
	return &Signer{audience: audience, key: key, now: time.Now}, nil
}

// SetClock overrides the time source, for tests.
func (s *Signer) SetClock(now func() time.Time) {
	s.now = now
}

// Audience returns the audience this signer issues for.
func (s *Signer) Audience() string {
	return s.audience
}

// Sign returns a token for subject that expires after ttl.
func (s *Signer) Sign(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature, audience and expiry, and returns the token subject.
func (s *Signer) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func deriveKey(secret []byte, audience string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(audience))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", audience, err)
	}
	return key, nil
}
