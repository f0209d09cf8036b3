// Package users implements account management on top of the auth
// primitives: registration, authentication, profile updates and the
// admin-facing user CRUD.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authkit/authkit/internal/auth"
	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/metrics"
	"github.com/authkit/authkit/pkg/models"
	"github.com/authkit/authkit/pkg/validation"
)

// Service implements user account operations.
type Service struct {
	logger    *zap.Logger
	db        *gorm.DB
	validator *validation.Validator
	rbac      *auth.RBACService
}

// NewService creates a user service.
func NewService(logger *zap.Logger, db *gorm.DB, validator *validation.Validator, rbac *auth.RBACService) *Service {
	return &Service{logger: logger, db: db, validator: validator, rbac: rbac}
}

// Register creates a new user account with the default role.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	if err := s.validator.ValidateEmail(req.Email); err != nil {
		return nil, apierrors.Invalid(err.Error())
	}
	if err := s.validator.ValidateUsername(req.Username); err != nil {
		return nil, apierrors.Invalid(err.Error())
	}
	if err := auth.CheckPasswordPolicy(s.validator, req.Password); err != nil {
		return nil, err
	}
	if s.validator.ContainsInjection(req.FirstName) || s.validator.ContainsInjection(req.LastName) {
		return nil, apierrors.Invalid("name contains invalid characters")
	}

	email := validation.NormalizeEmail(req.Email)

	if err := s.checkEmailFree(ctx, email, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.checkUsernameFree(ctx, req.Username, uuid.Nil); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    s.validator.SanitizeInput(req.FirstName),
		LastName:     s.validator.SanitizeInput(req.LastName),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.rbac.AddRole(ctx, user.ID, models.RoleUser); err != nil {
		s.logger.Error("failed to assign default role",
			zap.Error(err),
			zap.String("user_id", user.ID.String()))
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("email", email))

	return s.GetByID(ctx, user.ID)
}

// Authenticate verifies credentials and records the login time. Every
// failure path returns the same generic error so callers cannot probe
// which part was wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	invalidCredentials := apierrors.Unauthorized("incorrect email or password")

	email = validation.NormalizeEmail(email)
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where("email = ?", email).First(&user).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
			s.logger.Warn("authentication attempt for unknown email", zap.String("email", email))
			return nil, invalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !auth.VerifyPassword(user.PasswordHash, password) {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("failed password verification",
			zap.String("email", email),
			zap.String("user_id", user.ID.String()))
		return nil, invalidCredentials
	}

	if !user.IsActive {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, apierrors.Unauthorized("account is disabled")
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"last_login_at": now,
		"updated_at":    now,
	}).Error; err != nil {
		s.logger.Warn("failed to update last login time", zap.Error(err))
	}
	user.LastLoginAt = &now

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	return &user, nil
}

// GetByID loads a user with roles.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where("id = ?", id).First(&user).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// GetByEmail loads a user by normalized email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").
		Where("email = ?", validation.NormalizeEmail(email)).First(&user).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// GetByUsername loads a user by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where("username = ?", username).First(&user).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// List returns users with roles, paginated.
func (s *Service) List(ctx context.Context, offset, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var list []models.User
	err := s.db.WithContext(ctx).Preload("Roles").
		Order("created_at").Offset(offset).Limit(limit).Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return list, nil
}

// Update applies a partial update, rejecting email/username collisions.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *models.UpdateUserRequest) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}

	if req.Email != nil {
		email := validation.NormalizeEmail(*req.Email)
		if email != user.Email {
			if err := s.validator.ValidateEmail(email); err != nil {
				return nil, apierrors.Invalid(err.Error())
			}
			if err := s.checkEmailFree(ctx, email, id); err != nil {
				return nil, err
			}
			updates["email"] = email
		}
	}
	if req.Username != nil && *req.Username != user.Username {
		if err := s.validator.ValidateUsername(*req.Username); err != nil {
			return nil, apierrors.Invalid(err.Error())
		}
		if err := s.checkUsernameFree(ctx, *req.Username, id); err != nil {
			return nil, err
		}
		updates["username"] = *req.Username
	}
	if req.FirstName != nil {
		if s.validator.ContainsInjection(*req.FirstName) {
			return nil, apierrors.Invalid("name contains invalid characters")
		}
		updates["first_name"] = s.validator.SanitizeInput(*req.FirstName)
	}
	if req.LastName != nil {
		if s.validator.ContainsInjection(*req.LastName) {
			return nil, apierrors.Invalid("name contains invalid characters")
		}
		updates["last_name"] = s.validator.SanitizeInput(*req.LastName)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsAdmin != nil {
		updates["is_admin"] = *req.IsAdmin
	}

	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}

	if req.Roles != nil {
		if err := s.rbac.AssignRoles(ctx, id, *req.Roles); err != nil {
			return nil, err
		}
	}

	return s.GetByID(ctx, id)
}

// Delete removes a user and their sessions and role assignments.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Association("Roles").Clear(); err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
		if err := tx.Delete(&models.User{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		s.logger.Info("user deleted", zap.String("user_id", id.String()))
		return nil
	})
}

// ChangePassword verifies the current password before setting a new one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !auth.VerifyPassword(user.PasswordHash, currentPassword) {
		return apierrors.Unauthorized("incorrect current password")
	}
	if err := auth.CheckPasswordPolicy(s.validator, newPassword); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"password_hash": hash, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password changed", zap.String("user_id", id.String()))
	return nil
}

// SetAvatar records the avatar URL and returns the previous one so the
// caller can delete the old file.
func (s *Service) SetAvatar(ctx context.Context, id uuid.UUID, url string) (previous string, err error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"avatar_url": url, "updated_at": time.Now()}).Error
	if err != nil {
		return "", fmt.Errorf("failed to update avatar: %w", err)
	}
	return user.AvatarURL, nil
}

// ClearAvatar removes the avatar URL and returns what it was.
func (s *Service) ClearAvatar(ctx context.Context, id uuid.UUID) (previous string, err error) {
	return s.SetAvatar(ctx, id, "")
}

func (s *Service) checkEmailFree(ctx context.Context, email string, exclude uuid.UUID) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? AND id != ?", email, exclude).Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return apierrors.Conflict("user with this email already exists")
	}
	return nil
}

func (s *Service) checkUsernameFree(ctx context.Context, username string, exclude uuid.UUID) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? AND id != ?", username, exclude).Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if count > 0 {
		return apierrors.Conflict("user with this username already exists")
	}
	return nil
}
