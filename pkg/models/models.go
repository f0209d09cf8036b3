package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user account in the system
type User struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Email        string     `json:"email" gorm:"uniqueIndex" validate:"required,email,max=254"`
	Username     string     `json:"username" gorm:"uniqueIndex" validate:"required,min=3,max=30,alphanum"`
	PasswordHash string     `json:"-" gorm:"column:password_hash"`
	FirstName    string     `json:"first_name" validate:"omitempty,max=50"`
	LastName     string     `json:"last_name" validate:"omitempty,max=50"`
	AvatarURL    string     `json:"avatar_url" validate:"omitempty,max=512"`
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	IsAdmin      bool       `json:"is_admin" gorm:"default:false"` // legacy flag, kept alongside the admin role
	TOTPEnabled  bool       `json:"totp_enabled" gorm:"default:false"`
	TOTPSecret   string     `json:"-" gorm:"column:totp_secret"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	Roles        []Role     `json:"roles" gorm:"many2many:user_roles"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasRole reports whether the user carries the named role.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// RoleNames returns the names of all roles attached to the user.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Role represents a named role for access control
type Role struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Name        string    `json:"name" gorm:"uniqueIndex" validate:"required,min=2,max=30"`
	Description string    `json:"description" validate:"omitempty,max=255"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Well-known role names seeded at startup
const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleViewer    = "viewer"
)

// DefaultRoles returns the role set seeded on first start.
func DefaultRoles() []Role {
	return []Role{
		{Name: RoleAdmin, Description: "System administrator with full access"},
		{Name: RoleUser, Description: "Standard user with basic access"},
		{Name: RoleModerator, Description: "Content moderator with limited admin access"},
		{Name: RoleViewer, Description: "Read-only access to the system"},
	}
}

// UserRole is the join table between users and roles
type UserRole struct {
	UserID     uuid.UUID `json:"user_id" gorm:"primaryKey;type:uuid"`
	RoleID     uuid.UUID `json:"role_id" gorm:"primaryKey;type:uuid"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Session represents a single login on a device
type Session struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Token     string    `json:"-" gorm:"uniqueIndex"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionInfo is the API view of a session
type SessionInfo struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsCurrent bool      `json:"is_current"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair represents issued access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RegisterRequest represents a registration payload
type RegisterRequest struct {
	Email     string `json:"email" binding:"required" validate:"required,email,max=254"`
	Username  string `json:"username" binding:"required" validate:"required,min=3,max=30,alphanum"`
	Password  string `json:"password" binding:"required" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"omitempty,max=50"`
	LastName  string `json:"last_name" validate:"omitempty,max=50"`
}

// LoginRequest represents a login payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required" validate:"required,email"`
	Password string `json:"password" binding:"required" validate:"required,max=128"`
	TOTPCode string `json:"totp_code" validate:"omitempty,len=6,numeric"`
}

// LoginResponse wraps the token pair with session metadata
type LoginResponse struct {
	TokenPair
	SessionID    uuid.UUID `json:"session_id"`
	SessionToken string    `json:"session_token"`
}

// RefreshRequest carries the refresh token to be rotated
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// UpdateUserRequest represents a partial user update
type UpdateUserRequest struct {
	Email     *string   `json:"email" validate:"omitempty,email,max=254"`
	Username  *string   `json:"username" validate:"omitempty,min=3,max=30,alphanum"`
	FirstName *string   `json:"first_name" validate:"omitempty,max=50"`
	LastName  *string   `json:"last_name" validate:"omitempty,max=50"`
	IsActive  *bool     `json:"is_active"`
	IsAdmin   *bool     `json:"is_admin"`
	Roles     *[]string `json:"roles" validate:"omitempty,dive,min=2,max=30"`
}

// ChangePasswordRequest represents a password change for the current user
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required" validate:"required,min=8,max=128"`
}

// AssignRolesRequest replaces the role set of a user
type AssignRolesRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required" validate:"required"`
	Roles  []string  `json:"roles" binding:"required" validate:"required,min=1,dive,min=2,max=30"`
}

// TOTPSetup is returned when enrolling a TOTP authenticator
type TOTPSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// TOTPRequest carries a one-time code for activation or disable flows
type TOTPRequest struct {
	Code     string `json:"code" validate:"omitempty,len=6,numeric"`
	Password string `json:"password"`
}

