package main

import (
	"context"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"gatehouse/internal/identity"
)

// seedLocalAccounts provisions confirmed demo accounts so the in-memory
// store is usable without a confirmation mail round-trip. Never used with
// postgres.
func seedLocalAccounts(ctx context.Context, repo identity.Repository, logger *slog.Logger) {
	accounts := []struct {
		email     string
		password  string
		firstName string
		lastName  string
		role      string
	}{
		{"admin@example.com", "admin-password", "Ada", "Admin", identity.RoleAdmin},
		{"manager@example.com", "manager-password", "Morgan", "Manager", identity.RoleManager},
		{"user@example.com", "user-password", "Uma", "User", identity.RoleUser},
	}

	now := time.Now().UTC()
	for _, account := range accounts {
		role, err := repo.FindRoleByName(ctx, account.role)
		if err != nil || role == nil {
			logger.Error("seed: missing role", "role", account.role, "error", err)
			continue
		}

		hash, err := identity.HashPassword(account.password)
		if err != nil {
			logger.Error("seed: hashing password", "error", err)
			continue
		}

		confirmed := now
		_, err = repo.CreateUser(ctx, identity.User{
			ID:               uuid.New(),
			Email:            account.email,
			FirstName:        account.firstName,
			LastName:         account.lastName,
			RoleID:           role.ID,
			RoleName:         role.Name,
			PasswordHash:     hash,
			EmailConfirmedAt: &confirmed,
			CreatedAt:        now,
			UpdatedAt:        now,
			LastLoginAt:      now,
		})
		if err != nil {
			logger.Error("seed: creating account", "email", account.email, "error", err)
			continue
		}
		logger.Info("seeded local account", "email", account.email, "role", account.role)
	}
}
