package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apierrors "github.com/authkit/authkit/pkg/errors"
)

func (s *Server) handleListSessions(c *gin.Context) {
	claims := claimsFrom(c)

	sessions, err := s.sessions.List(c.Request.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	claims := claimsFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid session id"))
		return
	}

	if err := s.sessions.Invalidate(c.Request.Context(), id, claims.UserID); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "session revoked"})
}

func (s *Server) handleDeleteOtherSessions(c *gin.Context) {
	claims := claimsFrom(c)

	removed, err := s.sessions.InvalidateOthers(c.Request.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":          "other sessions revoked",
		"sessions_removed": removed,
	})
}
