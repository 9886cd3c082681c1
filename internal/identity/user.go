package identity

import (
	"time"

	"github.com/google/uuid"
)

// Role names seeded by the initial migration. These roles cannot be deleted.
const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// User represents an account in the system.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	RoleID           uuid.UUID  `json:"role_id"`
	RoleName         string     `json:"role"`
	PasswordHash     string     `json:"-"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastLoginAt      time.Time  `json:"last_login_at"`
}

// Confirmed reports whether the user has completed email confirmation.
func (u *User) Confirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Role is an assignable permission level.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session represents an authenticated session. The refresh token itself is
// never stored; only its SHA-256 hash lives on the row.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokeReason   string     `json:"revoke_reason,omitempty"`
	UserAgent      string     `json:"-"`
	IPAddress      string     `json:"-"`
}

// Live reports whether the session can still authenticate requests.
func (s *Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is the credential pair handed to clients: a short-lived JWT
// access token and an opaque refresh token.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenKind classifies one-time tokens delivered in email links.
type TokenKind string

const (
	// TokenKindSignup verifies a new account's email address.
	TokenKindSignup TokenKind = "signup"
	// TokenKindEmail verifies a changed email address.
	TokenKindEmail TokenKind = "email"
	// TokenKindRecovery authorizes a password reset.
	TokenKindRecovery TokenKind = "recovery"
	// TokenKindCode is a one-shot authorization code exchanged for a session.
	TokenKindCode TokenKind = "code"
)

// OneTimeToken is a single-use verification token. Consuming one is atomic:
// a token verifies at most once.
type OneTimeToken struct {
	TokenHash     string
	UserID        uuid.UUID
	Kind          TokenKind
	CodeChallenge string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
}

// AuthResult bundles the outcome of a successful authentication step.
type AuthResult struct {
	User    *User
	Session *Session
	Pair    TokenPair
}
