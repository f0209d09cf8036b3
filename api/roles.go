package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/authkit/authkit/internal/auth"
	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

func (s *Server) handleListRoles(c *gin.Context) {
	roles, err := s.rbac.ListRoles(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (s *Server) handleAssignRoles(c *gin.Context) {
	var req models.AssignRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	ctx := c.Request.Context()
	if err := s.rbac.AssignRoles(ctx, req.UserID, req.Roles); err != nil {
		s.abortWithError(c, err)
		return
	}

	roles, err := s.rbac.RolesForUser(ctx, req.UserID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": req.UserID,
		"roles":   roles,
	})
}

func (s *Server) handleUserRoles(c *gin.Context) {
	claims := claimsFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid user id"))
		return
	}

	if id != claims.UserID && !auth.RoleSatisfies(claims.Roles, models.RoleAdmin) {
		ok, err := s.rbac.HasRole(c.Request.Context(), claims.UserID, models.RoleAdmin)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if !ok {
			s.abortWithError(c, apierrors.Forbidden("cannot view other users' roles"))
			return
		}
	}

	roles, err := s.rbac.RolesForUser(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": id,
		"roles":   roles,
	})
}
