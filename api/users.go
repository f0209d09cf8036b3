package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authkit/authkit/internal/auth"
	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/models"
)

func (s *Server) handleUpdateMe(c *gin.Context) {
	claims := claimsFrom(c)

	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	// Privilege and account-state fields are admin-only; self updates
	// touch profile fields only.
	req.IsActive = nil
	req.IsAdmin = nil
	req.Roles = nil

	user, err := s.users.Update(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) handleChangePassword(c *gin.Context) {
	claims := claimsFrom(c)

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	ctx := c.Request.Context()
	if err := s.users.ChangePassword(ctx, claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		s.abortWithError(c, err)
		return
	}

	// Other devices should not survive a password change.
	removed, err := s.sessions.InvalidateOthers(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		s.logger.Warn("failed to invalidate other sessions after password change",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"message":          "password changed",
		"sessions_removed": removed,
	})
}

func (s *Server) handleUploadAvatar(c *gin.Context) {
	claims := claimsFrom(c)

	file, _, err := c.Request.FormFile("avatar")
	if err != nil {
		s.abortWithError(c, apierrors.Invalid("avatar file is required").WithCause(err))
		return
	}
	defer file.Close()

	url, err := s.avatars.Save(file)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	previous, err := s.users.SetAvatar(c.Request.Context(), claims.UserID, url)
	if err != nil {
		if removeErr := s.avatars.Remove(url); removeErr != nil {
			s.logger.Warn("failed to remove orphaned avatar", zap.Error(removeErr))
		}
		s.abortWithError(c, err)
		return
	}

	if err := s.avatars.Remove(previous); err != nil {
		s.logger.Warn("failed to remove replaced avatar", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"avatar_url": url})
}

func (s *Server) handleDeleteAvatar(c *gin.Context) {
	claims := claimsFrom(c)

	previous, err := s.users.ClearAvatar(c.Request.Context(), claims.UserID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if previous == "" {
		s.abortWithError(c, apierrors.NotFound("no avatar to delete"))
		return
	}

	if err := s.avatars.Remove(previous); err != nil {
		s.logger.Warn("failed to remove avatar file", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "avatar deleted"})
}

func (s *Server) handleListUsers(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	list, err := s.users.List(c.Request.Context(), offset, limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":  list,
		"offset": offset,
		"count":  len(list),
	})
}

func (s *Server) handleGetUser(c *gin.Context) {
	claims := claimsFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid user id"))
		return
	}

	// Users may read their own record; anyone else's needs admin.
	if id != claims.UserID && !auth.RoleSatisfies(claims.Roles, models.RoleAdmin) {
		ok, err := s.rbac.HasRole(c.Request.Context(), claims.UserID, models.RoleAdmin)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if !ok {
			s.abortWithError(c, apierrors.Forbidden("cannot view other users"))
			return
		}
	}

	user, err := s.users.GetByID(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) handleUpdateUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid user id"))
		return
	}

	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid request body").WithCause(err))
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.Update(ctx, id, &req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	// Deactivating an account logs it out everywhere.
	if req.IsActive != nil && !*req.IsActive {
		if _, err := s.sessions.InvalidateAll(ctx, id); err != nil {
			s.logger.Warn("failed to invalidate sessions of deactivated user",
				zap.String("user_id", id.String()),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	claims := claimsFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.abortWithError(c, apierrors.Invalid("invalid user id"))
		return
	}

	if id == claims.UserID {
		s.abortWithError(c, apierrors.Invalid("cannot delete your own account"))
		return
	}

	ctx := c.Request.Context()

	// Deactivate first so cached session entries are purged from Redis;
	// the delete below only removes the database rows.
	if _, err := s.sessions.InvalidateAll(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate sessions of deleted user",
			zap.String("user_id", id.String()),
			zap.Error(err))
	}

	if err := s.users.Delete(ctx, id); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}
