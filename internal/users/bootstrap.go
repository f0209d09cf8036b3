package users

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authkit/authkit/internal/auth"
	"github.com/authkit/authkit/internal/config"
	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
	"github.com/authkit/authkit/pkg/validation"
)

// Bootstrap seeds the default roles and the configured admin account.
// Idempotent: an existing admin user is left untouched.
func (s *Service) Bootstrap(ctx context.Context, cfg config.AdminConfig) error {
	if err := s.rbac.EnsureDefaultRoles(ctx); err != nil {
		return fmt.Errorf("failed to ensure default roles: %w", err)
	}

	email := validation.NormalizeEmail(cfg.Email)
	if _, err := s.GetByEmail(ctx, email); err == nil {
		return nil
	} else if apierrors.FromError(err).StatusCode() != http.StatusNotFound {
		return err
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Username:     cfg.Username,
		PasswordHash: hash,
		FirstName:    "Admin",
		LastName:     "User",
		IsActive:     true,
		IsAdmin:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	if err := s.rbac.AssignRoles(ctx, admin.ID, []string{models.RoleAdmin, models.RoleUser}); err != nil {
		return fmt.Errorf("failed to assign admin roles: %w", err)
	}

	s.logger.Info("created bootstrap admin user",
		zap.String("email", email),
		zap.String("user_id", admin.ID.String()))
	return nil
}
