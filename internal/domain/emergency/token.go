package emergency

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/platform/apperr"
)

const (
	issuer      = "medvault"
	minKeyBytes = 32
)

// credentialClaims binds a token to one account and one exact payload text.
type credentialClaims struct {
	UID    string `json:"uid"`
	Digest string `json:"pld"`
	jwt.RegisteredClaims
}

// Signer issues and checks HS256 credential tokens.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner returns a signer using key. A ttl of zero issues tokens that
// never expire.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("credential signing key must be at least %d bytes, got %d", minKeyBytes, len(key))
	}
	if ttl < 0 {
		return nil, fmt.Errorf("credential ttl must not be negative")
	}
	return &Signer{key: key, ttl: ttl}, nil
}

// payloadDigest is the base64url SHA-256 of the payload text.
func payloadDigest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign returns the token and, when a ttl is configured, its expiry.
func (s *Signer) Sign(accountID uuid.UUID, uid, payload string, now time.Time) (string, *time.Time, error) {
	claims := credentialClaims{
		UID:    uid,
		Digest: payloadDigest(payload),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  accountID.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var exp *time.Time
	if s.ttl > 0 {
		e := now.Add(s.ttl)
		exp = &e
		claims.ExpiresAt = jwt.NewNumericDate(e)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign emergency credential: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the token signature and expiry, and that it was issued for
// accountID over exactly payload.
func (s *Signer) Verify(token, payload string, accountID uuid.UUID, now time.Time) error {
	if token == "" {
		return apperr.Authorization("signed credential token required")
	}
	var claims credentialClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Authorization("emergency credential has expired")
	case err != nil:
		return apperr.Authorization("invalid emergency credential signature")
	}
	if claims.Subject != accountID.String() {
		return apperr.Authorization("emergency credential was issued to another account")
	}
	if subtle.ConstantTimeCompare([]byte(claims.Digest), []byte(payloadDigest(payload))) != 1 {
		return apperr.Authorization("QR data does not match its signature")
	}
	return nil
}
