package emergency

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/platform/apperr"
)

var testKey = []byte(strings.Repeat("k", 32))

func TestNewSigner_Validation(t *testing.T) {
	if _, err := NewSigner([]byte("short"), 0); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewSigner(testKey, -time.Second); err == nil {
		t.Error("expected error for negative ttl")
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	s, err := NewSigner(testKey, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := uuid.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := `{"uid":"HID123456789"}`

	token, exp, err := s.Sign(id, "HID123456789", payload, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if exp != nil {
		t.Errorf("expected no expiry without ttl, got %v", exp)
	}
	if err := s.Verify(token, payload, id, now.Add(24*365*time.Hour)); err != nil {
		t.Errorf("expected valid token, got %v", err)
	}
}

func TestSigner_Rejections(t *testing.T) {
	s, _ := NewSigner(testKey, time.Hour)
	other, _ := NewSigner([]byte(strings.Repeat("x", 32)), time.Hour)
	id := uuid.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := `{"uid":"HID123456789"}`

	token, exp, _ := s.Sign(id, "HID123456789", payload, now)
	if exp == nil || !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry one hour out, got %v", exp)
	}
	foreign, _, _ := other.Sign(id, "HID123456789", payload, now)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, credentialClaims{
		Digest:           payloadDigest(payload),
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: id.String()},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("build unsigned token: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		payload string
		account uuid.UUID
		at      time.Time
	}{
		{"empty token", "", payload, id, now},
		{"garbage", "not-a-jwt", payload, id, now},
		{"foreign key", foreign, payload, id, now},
		{"alg none", unsigned, payload, id, now},
		{"tampered payload", token, `{"uid":"HID999999999"}`, id, now},
		{"other account", token, payload, uuid.New(), now},
		{"expired", token, payload, id, now.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.token, tt.payload, tt.account, tt.at)
			if !apperr.Is(err, apperr.KindAuthorization) {
				t.Errorf("expected authorization error, got %v", err)
			}
		})
	}
}
