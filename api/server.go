// Package api exposes the HTTP surface: authentication, user and role
// management, session control and avatar handling.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authkit/authkit/internal/auth"
	"github.com/authkit/authkit/internal/config"
	"github.com/authkit/authkit/internal/storage"
	"github.com/authkit/authkit/internal/users"
)

// Server wires the services into a gin router and owns the HTTP listener.
type Server struct {
	logger   *zap.Logger
	cfg      *config.Config
	db       *gorm.DB
	redis    *redis.Client
	router   *gin.Engine
	users    *users.Service
	tokens   *auth.TokenService
	sessions *auth.SessionManager
	rbac     *auth.RBACService
	totp     *auth.TOTPService
	limiter  auth.RateLimiter
	avatars  *storage.AvatarStore

	startedAt  time.Time
	httpServer *http.Server
}

// Deps collects the services the server depends on.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Users    *users.Service
	Tokens   *auth.TokenService
	Sessions *auth.SessionManager
	RBAC     *auth.RBACService
	TOTP     *auth.TOTPService
	Limiter  auth.RateLimiter
	Avatars  *storage.AvatarStore
}

// NewServer builds the router and registers all routes.
func NewServer(logger *zap.Logger, cfg *config.Config, deps Deps) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		db:       deps.DB,
		redis:    deps.Redis,
		users:    deps.Users,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		rbac:     deps.RBAC,
		totp:     deps.TOTP,
		limiter:  deps.Limiter,
		avatars:  deps.Avatars,

		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(s.securityHeaders())
	router.Use(s.corsMiddleware())
	router.Use(s.metricsMiddleware())

	// Health and metrics stay outside authentication and rate limiting
	// so probes keep working when the API is saturated.
	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Static(s.avatars.BasePath(), s.avatars.Dir())

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", s.rateLimit("register"), s.handleRegister)
		authGroup.POST("/login", s.rateLimit("login"), s.handleLogin)
		authGroup.POST("/refresh", s.rateLimit("refresh"), s.handleRefresh)
		authGroup.POST("/logout", s.requireAuth(), s.rateLimit("general"), s.handleLogout)
		authGroup.GET("/me", s.requireAuth(), s.rateLimit("general"), s.handleMe)
	}

	me := v1.Group("/users/me", s.requireAuth(), s.rateLimit("profile"))
	{
		me.GET("", s.handleMe)
		me.PUT("", s.handleUpdateMe)
		me.POST("/password", s.handleChangePassword)
		me.POST("/avatar", s.handleUploadAvatar)
		me.DELETE("/avatar", s.handleDeleteAvatar)
		me.POST("/totp/enroll", s.handleTOTPEnroll)
		me.POST("/totp/activate", s.handleTOTPActivate)
		me.POST("/totp/disable", s.handleTOTPDisable)
	}

	userGroup := v1.Group("/users", s.requireAuth())
	{
		userGroup.GET("", s.requireRole("admin"), s.rateLimit("admin"), s.handleListUsers)
		userGroup.GET("/:id", s.rateLimit("general"), s.handleGetUser)
		userGroup.PUT("/:id", s.requireRole("admin"), s.rateLimit("admin"), s.handleUpdateUser)
		userGroup.DELETE("/:id", s.requireRole("admin"), s.rateLimit("admin"), s.handleDeleteUser)
		userGroup.GET("/:id/roles", s.rateLimit("general"), s.handleUserRoles)
	}

	roleGroup := v1.Group("/roles", s.requireAuth())
	{
		roleGroup.GET("", s.rateLimit("general"), s.handleListRoles)
		roleGroup.POST("/assign", s.requireRole("admin"), s.rateLimit("admin"), s.handleAssignRoles)
	}

	sessionGroup := v1.Group("/sessions", s.requireAuth(), s.rateLimit("general"))
	{
		sessionGroup.GET("", s.handleListSessions)
		sessionGroup.DELETE("/others", s.handleDeleteOtherSessions)
		sessionGroup.DELETE("/:id", s.handleDeleteSession)
	}

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := s.cfg.HTTP.CORSOrigins
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = origins
	}
	return cors.New(corsCfg)
}

// Start runs the HTTP listener until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	s.logger.Info("http server listening", zap.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "authkit",
		"status":  "running",
		"docs":    "/api/v1",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	health := gin.H{
		"status":         "ok",
		"service":        "authkit",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}

	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		health["status"] = "degraded"
		health["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		health["database"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(c.Request.Context()).Err(); err != nil {
			health["redis"] = "unreachable"
		} else {
			health["redis"] = "ok"
		}
	} else {
		health["redis"] = "disabled"
	}

	c.JSON(status, health)
}
