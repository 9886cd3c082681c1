// Package admin implements the management surface: user accounts, roles,
// and application settings, gated by the caller's role.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/identity"
)

var (
	// ErrForbidden means the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrSystemRole means the operation would alter a built-in role.
	ErrSystemRole = errors.New("system roles cannot be modified")
	// ErrSelfDeletion means an administrator tried to delete their own account.
	ErrSelfDeletion = errors.New("cannot delete your own account")
)

// Actor identifies the authenticated caller for permission checks.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) isAdmin() bool   { return a.Role == identity.RoleAdmin }
func (a Actor) isManager() bool { return a.Role == identity.RoleManager || a.isAdmin() }

// CreateUserInput is an administrator-created account. The account is born
// confirmed; no confirmation mail is sent.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleName  string
}

// UpdateUserInput carries optional field changes. Nil means unchanged.
type UpdateUserInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	RoleName  *string
}

// Service orchestrates permission checks and persistence for the management
// surface.
type Service struct {
	repo     identity.Repository
	settings SettingsRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a Service.
func NewService(repo identity.Repository, settings SettingsRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, settings: settings, logger: logger, now: time.Now}
}

// ListUsers returns a page of accounts. Managers and administrators only.
func (s *Service) ListUsers(ctx context.Context, actor Actor, opts identity.ListOptions) ([]identity.User, error) {
	if !actor.isManager() {
		return nil, ErrForbidden
	}
	return s.repo.ListUsers(ctx, opts)
}

// GetUser returns one account. Users may read themselves; anyone else needs
// at least the manager role.
func (s *Service) GetUser(ctx context.Context, actor Actor, id uuid.UUID) (*identity.User, error) {
	if actor.ID != id && !actor.isManager() {
		return nil, ErrForbidden
	}
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, identity.ErrNotFound
	}
	return user, nil
}

// CreateUser provisions a confirmed account with the given role.
// Administrators only.
func (s *Service) CreateUser(ctx context.Context, actor Actor, input CreateUserInput) (*identity.User, error) {
	if !actor.isAdmin() {
		return nil, ErrForbidden
	}

	email, err := identity.NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := identity.ValidatePasswordStrength(input.Password); err != nil {
		return nil, err
	}
	hash, err := identity.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	roleName := input.RoleName
	if roleName == "" {
		roleName = identity.RoleUser
	}
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return nil, fmt.Errorf("resolving role %q: %w", roleName, err)
	}

	now := s.now()
	confirmedAt := now
	user, err := s.repo.CreateUser(ctx, identity.User{
		ID:               uuid.New(),
		Email:            email,
		FirstName:        strings.TrimSpace(input.FirstName),
		LastName:         strings.TrimSpace(input.LastName),
		RoleID:           role.ID,
		RoleName:         role.Name,
		PasswordHash:     hash,
		EmailConfirmedAt: &confirmedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created by administrator", "user_id", user.ID, "actor_id", actor.ID, "role", role.Name)
	return &user, nil
}

// UpdateUser applies account changes. Managers may edit names only;
// administrators may also change email and role.
func (s *Service) UpdateUser(ctx context.Context, actor Actor, id uuid.UUID, input UpdateUserInput) (*identity.User, error) {
	if !actor.isManager() {
		return nil, ErrForbidden
	}
	if (input.Email != nil || input.RoleName != nil) && !actor.isAdmin() {
		return nil, ErrForbidden
	}

	update := identity.UserUpdate{
		FirstName: input.FirstName,
		LastName:  input.LastName,
	}
	if input.Email != nil {
		email, err := identity.NormalizeEmail(*input.Email)
		if err != nil {
			return nil, err
		}
		update.Email = &email
	}
	if input.RoleName != nil {
		role, err := s.repo.FindRoleByName(ctx, *input.RoleName)
		if err != nil {
			return nil, fmt.Errorf("resolving role %q: %w", *input.RoleName, err)
		}
		update.RoleID = &role.ID
	}

	return s.repo.UpdateUser(ctx, id, update)
}

// DeleteUser removes an account and revokes its sessions. Administrators
// only, and never their own account.
func (s *Service) DeleteUser(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.isAdmin() {
		return ErrForbidden
	}
	if actor.ID == id {
		return ErrSelfDeletion
	}

	if _, err := s.repo.RevokeUserSessions(ctx, id, uuid.Nil, s.now(), identity.ReasonSignOut); err != nil {
		return err
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}

	s.logger.Info("user deleted", "user_id", id, "actor_id", actor.ID)
	return nil
}

// ListRoles returns all roles. Managers and administrators only.
func (s *Service) ListRoles(ctx context.Context, actor Actor) ([]identity.Role, error) {
	if !actor.isManager() {
		return nil, ErrForbidden
	}
	return s.repo.ListRoles(ctx)
}

// GetRole returns one role. Managers and administrators only.
func (s *Service) GetRole(ctx context.Context, actor Actor, id uuid.UUID) (*identity.Role, error) {
	if !actor.isManager() {
		return nil, ErrForbidden
	}
	role, err := s.repo.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, identity.ErrNotFound
	}
	return role, nil
}

// CreateRole adds a custom role. Administrators only.
func (s *Service) CreateRole(ctx context.Context, actor Actor, name, description string) (*identity.Role, error) {
	if !actor.isAdmin() {
		return nil, ErrForbidden
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", identity.ErrValidation)
	}

	role, err := s.repo.CreateRole(ctx, identity.Role{
		ID:          uuid.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// UpdateRole renames or re-describes a role. Built-in roles keep their name
// but may have their description edited. Administrators only.
func (s *Service) UpdateRole(ctx context.Context, actor Actor, id uuid.UUID, name, description string) (*identity.Role, error) {
	if !actor.isAdmin() {
		return nil, ErrForbidden
	}

	existing, err := s.repo.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, identity.ErrNotFound
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if existing.System && name != existing.Name {
		return nil, ErrSystemRole
	}
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", identity.ErrValidation)
	}

	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a custom role. Built-in roles are protected, and a role
// still assigned to users fails with a validation error from the repository.
// Administrators only.
func (s *Service) DeleteRole(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.isAdmin() {
		return ErrForbidden
	}

	existing, err := s.repo.FindRoleByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return identity.ErrNotFound
	}
	if existing.System {
		return ErrSystemRole
	}

	return s.repo.DeleteRole(ctx, id)
}

// ListSettings returns all application settings. Managers and administrators
// only.
func (s *Service) ListSettings(ctx context.Context, actor Actor) ([]Setting, error) {
	if !actor.isManager() {
		return nil, ErrForbidden
	}
	return s.settings.ListSettings(ctx)
}

// GetSetting returns one setting by key. Managers and administrators only.
func (s *Service) GetSetting(ctx context.Context, actor Actor, key string) (*Setting, error) {
	if !actor.isManager() {
		return nil, ErrForbidden
	}
	return s.settings.GetSetting(ctx, key)
}

// PutSetting creates or replaces a setting. Administrators only.
func (s *Service) PutSetting(ctx context.Context, actor Actor, key, value string) (*Setting, error) {
	if !actor.isAdmin() {
		return nil, ErrForbidden
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: setting key is required", identity.ErrValidation)
	}

	setting := Setting{Key: key, Value: value, UpdatedAt: s.now(), UpdatedBy: actor.ID}
	if err := s.settings.PutSetting(ctx, setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

// DeleteSetting removes a setting. Administrators only.
func (s *Service) DeleteSetting(ctx context.Context, actor Actor, key string) error {
	if !actor.isAdmin() {
		return ErrForbidden
	}
	return s.settings.DeleteSetting(ctx, key)
}
