package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

func (s *Server) handleTOTPEnroll(c *gin.Context) {
	claims := claimsFrom(c)

	user, err := s.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	setup, err := s.totp.Enroll(c.Request.Context(), user)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, setup)
}

func (s *Server) handleTOTPActivate(c *gin.Context) {
	claims := claimsFrom(c)

	var req models.TOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		s.abortWithError(c, apierrors.Invalid("authenticator code is required"))
		return
	}

	if err := s.totp.Activate(c.Request.Context(), claims.UserID, req.Code); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "authenticator enabled"})
}

func (s *Server) handleTOTPDisable(c *gin.Context) {
	claims := claimsFrom(c)

	var req models.TOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		s.abortWithError(c, apierrors.Invalid("password is required"))
		return
	}

	user, err := s.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	if err := s.totp.Disable(c.Request.Context(), user, req.Password); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "authenticator disabled"})
}
