package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserUpdate carries optional field changes for a user. Nil means unchanged.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	RoleID    *uuid.UUID
}

// ListOptions pages a user listing.
type ListOptions struct {
	Offset int
	Limit  int
}

// Repository defines persistence for users, roles, sessions, and one-time
// tokens.
type Repository interface {
	// User operations
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, update UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, opts ListOptions) ([]User, error)
	MarkEmailConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	UpdateUserLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	// Role operations
	FindRoleByID(ctx context.Context, id uuid.UUID) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, id uuid.UUID, name, description string) (*Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error

	// Session operations
	CreateSession(ctx context.Context, session Session, refreshHash string) error
	FindSessionByRefreshHash(ctx context.Context, refreshHash string) (*Session, *User, error)
	FindSessionByID(ctx context.Context, id uuid.UUID) (*Session, *User, error)
	RotateSessionRefreshHash(ctx context.Context, id uuid.UUID, newHash string) error
	TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time, reason string) error
	// RevokeUserSessions revokes every session of the user except the one
	// identified by except (uuid.Nil revokes all).
	RevokeUserSessions(ctx context.Context, userID uuid.UUID, except uuid.UUID, at time.Time, reason string) (int64, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// One-time token operations
	CreateOneTimeToken(ctx context.Context, token OneTimeToken) error
	// ConsumeOneTimeToken atomically marks the token consumed and returns it.
	// A token that is unknown, of another kind, or already consumed yields
	// ErrNotFound.
	ConsumeOneTimeToken(ctx context.Context, tokenHash string, kind TokenKind, at time.Time) (*OneTimeToken, error)
	DeleteUserTokens(ctx context.Context, userID uuid.UUID, kind TokenKind) error
}
