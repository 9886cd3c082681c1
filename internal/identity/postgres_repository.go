package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `
	u.id, u.email, u.first_name, u.last_name, u.role_id, r.name AS role_name,
	u.password_hash, u.email_confirmed_at, u.created_at, u.updated_at, u.last_login_at
`

// FindUserByID looks up a user by ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON u.role_id = r.id WHERE u.id = $1`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser(), nil
}

// FindUserByEmail looks up a user by email address.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON u.role_id = r.id WHERE u.email = $1`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser(), nil
}

// CreateUser inserts a new user.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (id, email, first_name, last_name, role_id, password_hash, email_confirmed_at, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.RoleID,
		user.PasswordHash,
		user.EmailConfirmedAt,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

// UpdateUser applies the non-nil fields of update and returns the result.
func (r *PostgresRepository) UpdateUser(ctx context.Context, id uuid.UUID, update UserUpdate) (*User, error) {
	sets := []string{"updated_at = $2"}
	args := []any{id, time.Now()}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Email != nil {
		appendSet("email", *update.Email)
	}
	if update.FirstName != nil {
		appendSet("first_name", *update.FirstName)
	}
	if update.LastName != nil {
		appendSet("last_name", *update.LastName)
	}
	if update.RoleID != nil {
		appendSet("role_id", *update.RoleID)
	}

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $1`, strings.Join(sets, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return r.FindUserByID(ctx, id)
}

// DeleteUser removes a user and, via cascade, their sessions and tokens.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns users ordered by creation time.
func (r *PostgresRepository) ListUsers(ctx context.Context, opts ListOptions) ([]User, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON u.role_id = r.id ORDER BY u.created_at, u.id OFFSET $1 LIMIT $2`

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query, opts.Offset, limit); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].toUser())
	}
	return users, nil
}

// MarkEmailConfirmed records the confirmation timestamp if not already set.
func (r *PostgresRepository) MarkEmailConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE users SET email_confirmed_at = $2, updated_at = $2 WHERE id = $1 AND email_confirmed_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id, at)
	return err
}

// UpdatePasswordHash stores a new password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, time.Now())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserLogin records the last login time.
func (r *PostgresRepository) UpdateUserLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	return err
}

// FindRoleByID looks up a role by ID.
func (r *PostgresRepository) FindRoleByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	var row roleRow
	if err := r.db.GetContext(ctx, &row, `SELECT id, name, description, is_system, created_at FROM roles WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toRole(), nil
}

// FindRoleByName looks up a role by name.
func (r *PostgresRepository) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	var row roleRow
	if err := r.db.GetContext(ctx, &row, `SELECT id, name, description, is_system, created_at FROM roles WHERE name = $1`, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toRole(), nil
}

// ListRoles returns all roles ordered by name.
func (r *PostgresRepository) ListRoles(ctx context.Context) ([]Role, error) {
	var rows []roleRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, name, description, is_system, created_at FROM roles ORDER BY name`); err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(rows))
	for i := range rows {
		roles = append(roles, *rows[i].toRole())
	}
	return roles, nil
}

// CreateRole inserts a new role.
func (r *PostgresRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	const query = `INSERT INTO roles (id, name, description, is_system, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, role.ID, role.Name, role.Description, role.System, role.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return Role{}, fmt.Errorf("%w: role name already exists", ErrValidation)
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole renames a role.
func (r *PostgresRepository) UpdateRole(ctx context.Context, id uuid.UUID, name, description string) (*Role, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE roles SET name = $2, description = $3 WHERE id = $1`, id, name, description)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.FindRoleByID(ctx, id)
}

// DeleteRole removes a role. Roles still referenced by users fail with a
// validation error.
func (r *PostgresRepository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return fmt.Errorf("%w: role is still assigned to users", ErrValidation)
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession inserts a session row keyed by the refresh token hash.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, refreshHash string) error {
	const query = `
		INSERT INTO user_sessions (id, user_id, refresh_token_hash, created_at, last_activity_at, expires_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		refreshHash,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt,
		session.UserAgent,
		session.IPAddress,
	)
	return err
}

const sessionUserQuery = `
	SELECT
		s.id, s.user_id, s.created_at, s.last_activity_at, s.expires_at, s.revoked_at, s.revoke_reason,
		s.user_agent, s.ip_address,
		u.email, u.first_name, u.last_name, u.role_id, r.name AS role_name, u.password_hash,
		u.email_confirmed_at, u.created_at AS user_created_at, u.updated_at AS user_updated_at, u.last_login_at
	FROM user_sessions s
	JOIN users u ON s.user_id = u.id
	JOIN roles r ON u.role_id = r.id
`

// FindSessionByRefreshHash looks up a session and its user by refresh hash.
func (r *PostgresRepository) FindSessionByRefreshHash(ctx context.Context, refreshHash string) (*Session, *User, error) {
	var row sessionUserRow
	if err := r.db.GetContext(ctx, &row, sessionUserQuery+` WHERE s.refresh_token_hash = $1`, refreshHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return row.toSession(), row.toUser(), nil
}

// FindSessionByID looks up a session and its user by session ID.
func (r *PostgresRepository) FindSessionByID(ctx context.Context, id uuid.UUID) (*Session, *User, error) {
	var row sessionUserRow
	if err := r.db.GetContext(ctx, &row, sessionUserQuery+` WHERE s.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return row.toSession(), row.toUser(), nil
}

// RotateSessionRefreshHash swaps in a new refresh hash, invalidating the old
// refresh token.
func (r *PostgresRepository) RotateSessionRefreshHash(ctx context.Context, id uuid.UUID, newHash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET refresh_token_hash = $2 WHERE id = $1 AND revoked_at IS NULL`, id, newHash)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidGrant
	}
	return nil
}

// TouchSession records activity on a session.
func (r *PostgresRepository) TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET last_activity_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

// RevokeSession marks a session revoked with a reason code.
func (r *PostgresRepository) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET revoked_at = $2, revoke_reason = $3 WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	return err
}

// RevokeUserSessions revokes every live session of the user except the given
// one (uuid.Nil revokes all).
func (r *PostgresRepository) RevokeUserSessions(ctx context.Context, userID uuid.UUID, except uuid.UUID, at time.Time, reason string) (int64, error) {
	const query = `UPDATE user_sessions SET revoked_at = $2, revoke_reason = $3 WHERE user_id = $1 AND id <> $4 AND revoked_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, userID, at, reason, except)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListActiveSessions returns all unrevoked, unexpired sessions.
func (r *PostgresRepository) ListActiveSessions(ctx context.Context) ([]Session, error) {
	const query = `
		SELECT id, user_id, created_at, last_activity_at, expires_at, revoked_at, revoke_reason, user_agent, ip_address
		FROM user_sessions
		WHERE revoked_at IS NULL AND expires_at > $1
	`
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, time.Now()); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, *rows[i].toSession())
	}
	return sessions, nil
}

// DeleteExpiredSessions removes sessions past their absolute expiry.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateOneTimeToken inserts a one-time token.
func (r *PostgresRepository) CreateOneTimeToken(ctx context.Context, token OneTimeToken) error {
	const query = `
		INSERT INTO one_time_tokens (token_hash, user_id, kind, code_challenge, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.TokenHash,
		token.UserID,
		token.Kind,
		token.CodeChallenge,
		token.CreatedAt,
		token.ExpiresAt,
	)
	return err
}

// ConsumeOneTimeToken atomically marks the token consumed and returns it.
func (r *PostgresRepository) ConsumeOneTimeToken(ctx context.Context, tokenHash string, kind TokenKind, at time.Time) (*OneTimeToken, error) {
	const query = `
		UPDATE one_time_tokens
		SET consumed_at = $3
		WHERE token_hash = $1 AND kind = $2 AND consumed_at IS NULL
		RETURNING token_hash, user_id, kind, code_challenge, created_at, expires_at, consumed_at
	`
	var row tokenRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash, kind, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toToken(), nil
}

// DeleteUserTokens removes all of a user's unconsumed tokens of a kind.
func (r *PostgresRepository) DeleteUserTokens(ctx context.Context, userID uuid.UUID, kind TokenKind) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM one_time_tokens WHERE user_id = $1 AND kind = $2 AND consumed_at IS NULL`, userID, kind)
	return err
}

// userRow is a database row representation of User.
type userRow struct {
	ID               uuid.UUID    `db:"id"`
	Email            string       `db:"email"`
	FirstName        string       `db:"first_name"`
	LastName         string       `db:"last_name"`
	RoleID           uuid.UUID    `db:"role_id"`
	RoleName         string       `db:"role_name"`
	PasswordHash     string       `db:"password_hash"`
	EmailConfirmedAt sql.NullTime `db:"email_confirmed_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
	LastLoginAt      time.Time    `db:"last_login_at"`
}

func (r *userRow) toUser() *User {
	user := &User{
		ID:           r.ID,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		RoleID:       r.RoleID,
		RoleName:     r.RoleName,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLoginAt:  r.LastLoginAt,
	}
	if r.EmailConfirmedAt.Valid {
		confirmed := r.EmailConfirmedAt.Time
		user.EmailConfirmedAt = &confirmed
	}
	return user
}

type roleRow struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	System      bool      `db:"is_system"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *roleRow) toRole() *Role {
	return &Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		System:      r.System,
		CreatedAt:   r.CreatedAt,
	}
}

type sessionRow struct {
	ID             uuid.UUID      `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	CreatedAt      time.Time      `db:"created_at"`
	LastActivityAt time.Time      `db:"last_activity_at"`
	ExpiresAt      time.Time      `db:"expires_at"`
	RevokedAt      sql.NullTime   `db:"revoked_at"`
	RevokeReason   sql.NullString `db:"revoke_reason"`
	UserAgent      string         `db:"user_agent"`
	IPAddress      string         `db:"ip_address"`
}

func (r *sessionRow) toSession() *Session {
	session := &Session{
		ID:             r.ID,
		UserID:         r.UserID,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
		ExpiresAt:      r.ExpiresAt,
		UserAgent:      r.UserAgent,
		IPAddress:      r.IPAddress,
	}
	if r.RevokedAt.Valid {
		revoked := r.RevokedAt.Time
		session.RevokedAt = &revoked
	}
	session.RevokeReason = r.RevokeReason.String
	return session
}

// sessionUserRow is a database row for the session + user join query.
type sessionUserRow struct {
	sessionRow

	Email            string       `db:"email"`
	FirstName        string       `db:"first_name"`
	LastName         string       `db:"last_name"`
	RoleID           uuid.UUID    `db:"role_id"`
	RoleName         string       `db:"role_name"`
	PasswordHash     string       `db:"password_hash"`
	EmailConfirmedAt sql.NullTime `db:"email_confirmed_at"`
	UserCreatedAt    time.Time    `db:"user_created_at"`
	UserUpdatedAt    time.Time    `db:"user_updated_at"`
	LastLoginAt      time.Time    `db:"last_login_at"`
}

func (r *sessionUserRow) toUser() *User {
	user := &User{
		ID:           r.UserID,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		RoleID:       r.RoleID,
		RoleName:     r.RoleName,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.UserCreatedAt,
		UpdatedAt:    r.UserUpdatedAt,
		LastLoginAt:  r.LastLoginAt,
	}
	if r.EmailConfirmedAt.Valid {
		confirmed := r.EmailConfirmedAt.Time
		user.EmailConfirmedAt = &confirmed
	}
	return user
}

type tokenRow struct {
	TokenHash     string       `db:"token_hash"`
	UserID        uuid.UUID    `db:"user_id"`
	Kind          TokenKind    `db:"kind"`
	CodeChallenge string       `db:"code_challenge"`
	CreatedAt     time.Time    `db:"created_at"`
	ExpiresAt     time.Time    `db:"expires_at"`
	ConsumedAt    sql.NullTime `db:"consumed_at"`
}

func (r *tokenRow) toToken() *OneTimeToken {
	token := &OneTimeToken{
		TokenHash:     r.TokenHash,
		UserID:        r.UserID,
		Kind:          r.Kind,
		CodeChallenge: r.CodeChallenge,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
	if r.ConsumedAt.Valid {
		consumed := r.ConsumedAt.Time
		token.ConsumedAt = &consumed
	}
	return token
}
