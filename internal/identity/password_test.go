package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "Ab1", true},
		{"no uppercase", "abcdefg1", true},
		{"no lowercase", "ABCDEFG1", true},
		{"no digit", "Abcdefgh", true},
		{"valid", "Abcdefg1", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tc.password)
			if tc.wantErr && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected valid password, got %v", err)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  USER@Example.COM ")
	if err != nil {
		t.Fatalf("NormalizeEmail returned error: %v", err)
	}
	if email != "user@example.com" {
		t.Fatalf("expected lowercased email, got %q", email)
	}

	for _, bad := range []string{"", "not-an-email", "a b@example.com"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %q, got %v", bad, err)
		}
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if !CheckPasswordHash("Sup3rSecret", hash) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPasswordHash("Wr0ngSecret", hash) {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("jwt-secret")
	user := &User{ID: uuid.New(), Email: "jwt@example.com", RoleName: RoleManager}
	sessionID := uuid.New()
	now := time.Now()

	raw, err := mintAccessToken(secret, user, sessionID, 15*time.Minute, now)
	if err != nil {
		t.Fatalf("mintAccessToken returned error: %v", err)
	}

	claims, err := ParseAccessToken(secret, raw)
	if err != nil {
		t.Fatalf("ParseAccessToken returned error: %v", err)
	}
	if claims.Subject != user.ID.String() || claims.Email != user.Email || claims.Role != RoleManager || claims.SessionID != sessionID.String() {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := ParseAccessToken([]byte("other-secret"), raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	secret := []byte("jwt-secret")
	user := &User{ID: uuid.New(), Email: "old@example.com", RoleName: RoleUser}
	issued := time.Now().Add(-time.Hour)

	raw, err := mintAccessToken(secret, user, uuid.New(), time.Minute, issued)
	if err != nil {
		t.Fatalf("mintAccessToken returned error: %v", err)
	}

	if _, err := ParseAccessToken(secret, raw); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	claims, err := parseAccessClaimsLoosely(secret, raw)
	if err != nil {
		t.Fatalf("parseAccessClaimsLoosely returned error: %v", err)
	}
	if claims.Email != user.Email {
		t.Fatalf("expected claims despite expiry, got %+v", claims)
	}
}
