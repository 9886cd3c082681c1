package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for local development and
// tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]User
	roles         map[uuid.UUID]Role
	sessions      map[uuid.UUID]Session
	refreshHashes map[string]uuid.UUID
	tokens        map[string]OneTimeToken
}

// NewMemoryRepository creates a MemoryRepository seeded with the three
// built-in roles.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{
		users:         make(map[uuid.UUID]User),
		roles:         make(map[uuid.UUID]Role),
		sessions:      make(map[uuid.UUID]Session),
		refreshHashes: make(map[string]uuid.UUID),
		tokens:        make(map[string]OneTimeToken),
	}
	now := time.Now()
	for _, name := range []string{RoleUser, RoleManager, RoleAdmin} {
		role := Role{ID: uuid.New(), Name: name, System: true, CreatedAt: now}
		r.roles[role.ID] = role
	}
	return r
}

func (r *MemoryRepository) FindUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.users[id]; ok {
		return r.withRoleName(user), nil
	}
	return nil, nil
}

func (r *MemoryRepository) FindUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return r.withRoleName(user), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return User{}, ErrEmailTaken
		}
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, id uuid.UUID, update UserUpdate) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Email != nil {
		for otherID, other := range r.users {
			if otherID != id && other.Email == *update.Email {
				return nil, ErrEmailTaken
			}
		}
		user.Email = *update.Email
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.RoleID != nil {
		user.RoleID = *update.RoleID
	}
	user.UpdatedAt = time.Now()
	r.users[id] = user
	return r.withRoleName(user), nil
}

func (r *MemoryRepository) DeleteUser(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	for sessionID, session := range r.sessions {
		if session.UserID == id {
			delete(r.sessions, sessionID)
		}
	}
	for hash, sessionID := range r.refreshHashes {
		if _, ok := r.sessions[sessionID]; !ok {
			delete(r.refreshHashes, hash)
		}
	}
	for hash, token := range r.tokens {
		if token.UserID == id {
			delete(r.tokens, hash)
		}
	}
	return nil
}

func (r *MemoryRepository) ListUsers(_ context.Context, opts ListOptions) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, *r.withRoleName(user))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID.String() < users[j].ID.String()
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if opts.Offset >= len(users) {
		return []User{}, nil
	}
	end := opts.Offset + limit
	if end > len(users) {
		end = len(users)
	}
	return users[opts.Offset:end], nil
}

func (r *MemoryRepository) MarkEmailConfirmed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	if user.EmailConfirmedAt == nil {
		user.EmailConfirmedAt = &at
		user.UpdatedAt = at
		r.users[id] = user
	}
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	r.users[id] = user
	return nil
}

func (r *MemoryRepository) UpdateUserLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.LastLoginAt = at
	user.UpdatedAt = at
	r.users[id] = user
	return nil
}

func (r *MemoryRepository) FindRoleByID(_ context.Context, id uuid.UUID) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role, ok := r.roles[id]; ok {
		copied := role
		return &copied, nil
	}
	return nil, nil
}

func (r *MemoryRepository) FindRoleByName(_ context.Context, name string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.Name == name {
			copied := role
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListRoles(_ context.Context) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *MemoryRepository) CreateRole(_ context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, fmt.Errorf("%w: role name already exists", ErrValidation)
		}
	}
	r.roles[role.ID] = role
	return role, nil
}

func (r *MemoryRepository) UpdateRole(_ context.Context, id uuid.UUID, name, description string) (*Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	role.Name = name
	role.Description = description
	r.roles[id] = role
	copied := role
	return &copied, nil
}

func (r *MemoryRepository) DeleteRole(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return ErrNotFound
	}
	for _, user := range r.users {
		if user.RoleID == id {
			return fmt.Errorf("%w: role is still assigned to users", ErrValidation)
		}
	}
	delete(r.roles, id)
	return nil
}

func (r *MemoryRepository) CreateSession(_ context.Context, session Session, refreshHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	r.refreshHashes[refreshHash] = session.ID
	return nil
}

func (r *MemoryRepository) FindSessionByRefreshHash(_ context.Context, refreshHash string) (*Session, *User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.refreshHashes[refreshHash]
	if !ok {
		return nil, nil, nil
	}
	return r.sessionWithUser(sessionID)
}

func (r *MemoryRepository) FindSessionByID(_ context.Context, id uuid.UUID) (*Session, *User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionWithUser(id)
}

func (r *MemoryRepository) RotateSessionRefreshHash(_ context.Context, id uuid.UUID, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.RevokedAt != nil {
		return ErrInvalidGrant
	}
	for hash, sessionID := range r.refreshHashes {
		if sessionID == id {
			delete(r.refreshHashes, hash)
		}
	}
	r.refreshHashes[newHash] = id
	return nil
}

func (r *MemoryRepository) TouchSession(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.RevokedAt != nil {
		return nil
	}
	session.LastActivityAt = at
	r.sessions[id] = session
	return nil
}

func (r *MemoryRepository) RevokeSession(_ context.Context, id uuid.UUID, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.RevokedAt != nil {
		return nil
	}
	session.RevokedAt = &at
	session.RevokeReason = reason
	r.sessions[id] = session
	return nil
}

func (r *MemoryRepository) RevokeUserSessions(_ context.Context, userID uuid.UUID, except uuid.UUID, at time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, session := range r.sessions {
		if session.UserID != userID || id == except || session.RevokedAt != nil {
			continue
		}
		revoked := at
		session.RevokedAt = &revoked
		session.RevokeReason = reason
		r.sessions[id] = session
		count++
	}
	return count, nil
}

func (r *MemoryRepository) ListActiveSessions(_ context.Context) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session.RevokedAt == nil && now.Before(session.ExpiresAt) {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (r *MemoryRepository) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, session := range r.sessions {
		if session.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			count++
		}
	}
	for hash, sessionID := range r.refreshHashes {
		if _, ok := r.sessions[sessionID]; !ok {
			delete(r.refreshHashes, hash)
		}
	}
	return count, nil
}

func (r *MemoryRepository) CreateOneTimeToken(_ context.Context, token OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.TokenHash] = token
	return nil
}

func (r *MemoryRepository) ConsumeOneTimeToken(_ context.Context, tokenHash string, kind TokenKind, at time.Time) (*OneTimeToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok || token.Kind != kind || token.ConsumedAt != nil {
		return nil, ErrNotFound
	}
	consumed := at
	token.ConsumedAt = &consumed
	r.tokens[tokenHash] = token
	copied := token
	return &copied, nil
}

func (r *MemoryRepository) DeleteUserTokens(_ context.Context, userID uuid.UUID, kind TokenKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, token := range r.tokens {
		if token.UserID == userID && token.Kind == kind && token.ConsumedAt == nil {
			delete(r.tokens, hash)
		}
	}
	return nil
}

// withRoleName returns a copy of the user with RoleName resolved. Callers
// must hold at least the read lock.
func (r *MemoryRepository) withRoleName(user User) *User {
	if role, ok := r.roles[user.RoleID]; ok {
		user.RoleName = role.Name
	}
	return &user
}

// sessionWithUser resolves a session and its user. Callers must hold at
// least the read lock.
func (r *MemoryRepository) sessionWithUser(id uuid.UUID) (*Session, *User, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	user, ok := r.users[session.UserID]
	if !ok {
		return nil, nil, nil
	}
	sessionCopy := session
	return &sessionCopy, r.withRoleName(user), nil
}
