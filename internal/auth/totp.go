package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

// TOTPService manages authenticator-app enrollment. A user enrolls to
// receive a secret, then activates it by proving they can produce a
// valid code. Only activated secrets gate logins.
type TOTPService struct {
	logger *zap.Logger
	db     *gorm.DB
	issuer string
}

// NewTOTPService creates a TOTP service. The issuer shows up as the
// account label in authenticator apps.
func NewTOTPService(logger *zap.Logger, db *gorm.DB, issuer string) *TOTPService {
	return &TOTPService{logger: logger, db: db, issuer: issuer}
}

// Enroll generates a fresh secret for the user and stores it in a
// pending state. Re-enrolling replaces any previous pending secret.
func (s *TOTPService) Enroll(ctx context.Context, user *models.User) (*models.TOTPSetup, error) {
	if user.TOTPEnabled {
		return nil, apierrors.Conflict("authenticator already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"totp_secret":  key.Secret(),
			"totp_enabled": false,
			"updated_at":   time.Now(),
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store TOTP secret: %w", err)
	}

	return &models.TOTPSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// Activate turns on TOTP for the user once they present a valid code for
// the pending secret.
func (s *TOTPService) Activate(ctx context.Context, userID uuid.UUID, code string) error {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user.TOTPSecret == "" {
		return apierrors.Invalid("no pending authenticator enrollment")
	}
	if user.TOTPEnabled {
		return apierrors.Conflict("authenticator already enabled")
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return apierrors.Unauthorized("invalid authenticator code")
	}

	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"totp_enabled": true, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to enable TOTP: %w", err)
	}

	s.logger.Info("TOTP enabled", zap.String("user_id", userID.String()))
	return nil
}

// Verify checks a login code against the user's activated secret.
func (s *TOTPService) Verify(user *models.User, code string) bool {
	if !user.TOTPEnabled || user.TOTPSecret == "" {
		return false
	}
	return totp.Validate(code, user.TOTPSecret)
}

// Disable removes the authenticator after re-verifying the password.
func (s *TOTPService) Disable(ctx context.Context, user *models.User, password string) error {
	if !user.TOTPEnabled {
		return apierrors.Invalid("authenticator is not enabled")
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return apierrors.Unauthorized("invalid credentials")
	}

	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"totp_secret":  "",
			"totp_enabled": false,
			"updated_at":   time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to disable TOTP: %w", err)
	}

	s.logger.Info("TOTP disabled", zap.String("user_id", user.ID.String()))
	return nil
}
