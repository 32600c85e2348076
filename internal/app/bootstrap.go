package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"saferide-backend/internal/auth"
	"saferide-backend/internal/config"
	"saferide-backend/internal/model"
)

type adminAccounts interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, account model.Account) (string, error)
}

type roleAssigner interface {
	AssignRole(ctx context.Context, userID string, roleName string) error
}

// bootstrapAdmin creates the first administrator when the users table is
// empty and bootstrap credentials are configured.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, accounts adminAccounts, roles roleAssigner, hasher *auth.PasswordHasher) error {
	if cfg.BootstrapAdminEmail == "" {
		return nil
	}

	count, err := accounts.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := hasher.Hash(ctx, cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}

	id, err := accounts.Create(ctx, model.Account{
		Email:        cfg.BootstrapAdminEmail,
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Administrator",
		IsActive:     true,
		IsVerified:   true,
	})
	if errors.Is(err, model.ErrUserAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := roles.AssignRole(ctx, id, "admin"); err != nil {
		return err
	}

	slog.Info("bootstrap admin created", "email", cfg.BootstrapAdminEmail)
	return nil
}
