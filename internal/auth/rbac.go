package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

// RBACService manages roles and user-role assignments.
type RBACService struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewRBACService creates an RBAC service.
func NewRBACService(logger *zap.Logger, db *gorm.DB) *RBACService {
	return &RBACService{logger: logger, db: db}
}

// EnsureDefaultRoles creates the built-in roles if they do not exist.
// Safe to call on every start.
func (s *RBACService) EnsureDefaultRoles(ctx context.Context) error {
	for _, role := range models.DefaultRoles() {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Role{}).Where("name = ?", role.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check role %s: %w", role.Name, err)
		}
		if count > 0 {
			continue
		}
		role.ID = uuid.New()
		role.CreatedAt = time.Now()
		role.UpdatedAt = time.Now()
		if err := s.db.WithContext(ctx).Create(&role).Error; err != nil {
			return fmt.Errorf("failed to create role %s: %w", role.Name, err)
		}
		s.logger.Info("created default role", zap.String("role", role.Name))
	}
	return nil
}

// ListRoles returns all roles.
func (s *RBACService) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order("name").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// RoleByName returns the role with the given name.
func (s *RBACService) RoleByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.NotFound(fmt.Sprintf("role %q not found", name))
		}
		return nil, fmt.Errorf("failed to look up role: %w", err)
	}
	return &role, nil
}

// AssignRoles replaces a user's role set with the named roles.
func (s *RBACService) AssignRoles(ctx context.Context, userID uuid.UUID, names []string) error {
	roles := make([]models.Role, 0, len(names))
	for _, name := range names {
		role, err := s.RoleByName(ctx, name)
		if err != nil {
			return err
		}
		roles = append(roles, *role)
	}

	user := models.User{ID: userID}
	if err := s.db.WithContext(ctx).Model(&user).Association("Roles").Replace(roles); err != nil {
		return fmt.Errorf("failed to assign roles: %w", err)
	}

	s.logger.Info("roles assigned",
		zap.String("user_id", userID.String()),
		zap.Strings("roles", names))
	return nil
}

// AddRole attaches a single role to a user, ignoring duplicates.
func (s *RBACService) AddRole(ctx context.Context, userID uuid.UUID, name string) error {
	role, err := s.RoleByName(ctx, name)
	if err != nil {
		return err
	}

	user := models.User{ID: userID}
	if err := s.db.WithContext(ctx).Model(&user).Association("Roles").Append(role); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// RemoveRole detaches a single role from a user.
func (s *RBACService) RemoveRole(ctx context.Context, userID uuid.UUID, name string) error {
	role, err := s.RoleByName(ctx, name)
	if err != nil {
		return err
	}

	user := models.User{ID: userID}
	if err := s.db.WithContext(ctx).Model(&user).Association("Roles").Delete(role); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// RolesForUser returns the roles attached to a user.
func (s *RBACService) RolesForUser(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	return user.Roles, nil
}

// HasRole reports whether the user carries the named role, honoring the
// legacy is_admin flag for the admin role.
func (s *RBACService) HasRole(ctx context.Context, userID uuid.UUID, name string) (bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	if name == models.RoleAdmin && user.IsAdmin {
		return true, nil
	}
	return user.HasRole(name), nil
}

// RoleSatisfies reports whether any of the held roles grants the
// required role. Admin satisfies everything, moderator satisfies the
// moderator and user requirements.
func RoleSatisfies(held []string, required string) bool {
	for _, role := range held {
		if role == required || role == models.RoleAdmin {
			return true
		}
		if role == models.RoleModerator && required == models.RoleUser {
			return true
		}
	}
	return false
}
