package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

// Token types carried in the token_type claim. Access tokens and refresh
// tokens are signed with distinct secrets, so one can never validate as
// the other even if the claim were forged.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims represents the JWT claims issued by this service
type Claims struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	SessionID uuid.UUID `json:"session_id"`
	TokenType string    `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService issues, validates and rotates JWT token pairs.
type TokenService struct {
	logger        *zap.Logger
	db            *gorm.DB
	jwtSecret     []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	store         RefreshStore
}

// NewTokenService creates a token service backed by the given refresh store.
func NewTokenService(
	logger *zap.Logger,
	db *gorm.DB,
	jwtSecret, refreshSecret string,
	accessTTL, refreshTTL time.Duration,
	issuer string,
	store RefreshStore,
) (*TokenService, error) {
	if jwtSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("token secrets cannot be empty")
	}
	if jwtSecret == refreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}

	return &TokenService{
		logger:        logger,
		db:            db,
		jwtSecret:     []byte(jwtSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        issuer,
		store:         store,
	}, nil
}

// GenerateTokenPair issues an access and refresh token bound to a session.
// The refresh token's jti is recorded in the store; only recorded tokens
// can be redeemed, which makes every refresh token single-use.
func (s *TokenService) GenerateTokenPair(ctx context.Context, user *models.User, sessionID uuid.UUID) (*models.TokenPair, error) {
	now := time.Now()

	accessClaims := &Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Roles:     user.RoleNames(),
		SessionID: sessionID,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshClaims := &Claims{
		UserID:    user.ID,
		SessionID: sessionID,
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	if err := s.store.Save(ctx, refreshClaims.ID, s.refreshTTL); err != nil {
		return nil, fmt.Errorf("failed to record refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(s.accessTTL),
	}, nil
}

// ValidateAccessToken parses and validates an access token.
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.parseToken(tokenString, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, apierrors.Unauthorized("not an access token")
	}
	return claims, nil
}

// RefreshTokens redeems a refresh token for a new token pair. The old
// token is consumed atomically; redeeming it twice fails on the second
// attempt.
func (s *TokenService) RefreshTokens(ctx context.Context, refreshToken string) (*models.TokenPair, *Claims, error) {
	claims, err := s.parseToken(refreshToken, s.refreshSecret)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, nil, apierrors.Unauthorized("not a refresh token")
	}

	ok, err := s.store.Consume(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if !ok {
		s.logger.Warn("refresh token replay or unknown token rejected",
			zap.String("user_id", claims.UserID.String()),
			zap.String("session_id", claims.SessionID.String()))
		return nil, nil, apierrors.Unauthorized("invalid or expired refresh token")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Roles").Where("id = ?", claims.UserID).First(&user).Error; err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apierrors.Unauthorized("user not found")
		}
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, nil, apierrors.Unauthorized("account is disabled")
	}

	pair, err := s.GenerateTokenPair(ctx, &user, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return pair, claims, nil
}

// RevokeRefreshToken removes a refresh token from the active store so it
// can no longer be redeemed. Expired or malformed tokens are treated as
// already revoked.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &Claims{}
	_, err := parser.ParseWithClaims(refreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.refreshSecret, nil
	})
	if err != nil || claims.ID == "" {
		return nil
	}
	return s.store.Revoke(ctx, claims.ID)
}

func (s *TokenService) parseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, apierrors.Unauthorized("invalid or expired token").WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apierrors.Unauthorized("invalid token claims")
	}

	return claims, nil
}
