package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	user, err := s.users.Register(c.Request.Context(), &req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	if user.TOTPEnabled {
		if req.TOTPCode == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":         apierrors.Unauthorized("authenticator code required"),
				"requires_totp": true,
			})
			return
		}
		if !s.totp.Verify(user, req.TOTPCode) {
			s.abortWithError(c, apierrors.Unauthorized("invalid authenticator code"))
			return
		}
	}

	session, err := s.sessions.Create(ctx, user.ID, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	pair, err := s.tokens.GenerateTokenPair(ctx, user, session.ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		TokenPair:    *pair,
		SessionID:    session.ID,
		SessionToken: session.Token,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	ctx := c.Request.Context()
	pair, claims, err := s.tokens.RefreshTokens(ctx, req.RefreshToken)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	// A refresh token outlives remote logout; refuse to mint tokens for
	// a session that has been revoked in the meantime.
	if err := s.sessions.ValidateID(ctx, claims.SessionID); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleLogout(c *gin.Context) {
	claims := claimsFrom(c)
	ctx := c.Request.Context()

	// Revoking the refresh token is best effort: the body is optional
	// and a malformed token is treated as already revoked.
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, req.RefreshToken); err != nil {
			s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
		}
	}

	if err := s.sessions.Invalidate(ctx, claims.SessionID, claims.UserID); err != nil {
		apiErr := apierrors.FromError(err)
		if apiErr.StatusCode() != http.StatusNotFound {
			s.abortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleMe(c *gin.Context) {
	claims := claimsFrom(c)

	user, err := s.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}
