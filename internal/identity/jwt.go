package identity

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwtlib.RegisteredClaims
}

func mintAccessToken(secret []byte, user *User, sessionID uuid.UUID, ttl time.Duration, now time.Time) (string, error) {
	claims := AccessClaims{
		Email:     user.Email,
		Role:      user.RoleName,
		SessionID: sessionID.String(),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies the signature and expiry of an access token and
// returns its claims. An expired but otherwise valid token yields
// ErrExpiredToken so callers can fall back to the refresh token.
func ParseAccessToken(secret []byte, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return claims, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// parseAccessClaimsLoosely extracts claims from a token whose signature is
// valid but which may be expired. Used when rotating a session: the refresh
// token is the credential, the access token only names the session.
func parseAccessClaimsLoosely(secret []byte, raw string) (*AccessClaims, error) {
	claims, err := ParseAccessToken(secret, raw)
	if err != nil && !errors.Is(err, ErrExpiredToken) {
		return nil, err
	}
	return claims, nil
}
