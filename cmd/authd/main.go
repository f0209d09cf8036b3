// Command authd runs the authentication service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/authkit/authkit/api"
	"github.com/authkit/authkit/internal/auth"
	"github.com/authkit/authkit/internal/config"
	"github.com/authkit/authkit/internal/database"
	"github.com/authkit/authkit/internal/storage"
	"github.com/authkit/authkit/internal/users"
	"github.com/authkit/authkit/pkg/logger"
	"github.com/authkit/authkit/pkg/metrics"
	"github.com/authkit/authkit/pkg/validation"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	if err := run(log, cfg); err != nil {
		log.Fatal("service failed", zap.Error(err))
	}
}

func run(log *zap.Logger, cfg *config.Config) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, running in database-only mode", zap.Error(err))
			redisClient = nil
		} else {
			log.Info("redis connected", zap.String("address", cfg.Redis.Address))
		}
	}

	var refreshStore auth.RefreshStore
	var limiter auth.RateLimiter
	var memoryRefresh *auth.MemoryRefreshStore
	var memoryLimiter *auth.MemoryRateLimiter
	if redisClient != nil {
		refreshStore = auth.NewRedisRefreshStore(redisClient)
		limiter = auth.NewRedisRateLimiter(redisClient)
	} else {
		memoryRefresh = auth.NewMemoryRefreshStore()
		memoryLimiter = auth.NewMemoryRateLimiter()
		refreshStore = memoryRefresh
		limiter = memoryLimiter
	}

	validator := validation.NewValidator(validation.PasswordPolicy{
		MinLength:           cfg.Password.MinLength,
		RequireUppercase:    cfg.Password.RequireUppercase,
		RequireLowercase:    cfg.Password.RequireLowercase,
		RequireNumbers:      cfg.Password.RequireNumbers,
		RequireSpecialChars: cfg.Password.RequireSpecialChars,
	})

	tokens, err := auth.NewTokenService(
		log, db,
		cfg.JWT.Secret, cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL(),
		cfg.JWT.Issuer,
		refreshStore,
	)
	if err != nil {
		return err
	}

	sessions := auth.NewSessionManager(log, db, redisClient, cfg.Session.TTL)
	rbac := auth.NewRBACService(log, db)
	totp := auth.NewTOTPService(log, db, cfg.JWT.Issuer)
	userService := users.NewService(log, db, validator, rbac)

	avatars, err := storage.NewAvatarStore(log, cfg.Avatar)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := userService.Bootstrap(ctx, cfg.Admin); err != nil {
		return err
	}

	server := api.NewServer(log, cfg, api.Deps{
		DB:       db,
		Redis:    redisClient,
		Users:    userService,
		Tokens:   tokens,
		Sessions: sessions,
		RBAC:     rbac,
		TOTP:     totp,
		Limiter:  limiter,
		Avatars:  avatars,
	})

	go maintenanceLoop(ctx, log, db, sessions, memoryRefresh, memoryLimiter)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown incomplete", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}

	return nil
}

// maintenanceLoop runs the periodic housekeeping: expired session
// cleanup, in-memory store pruning and DB pool gauges.
func maintenanceLoop(
	ctx context.Context,
	log *zap.Logger,
	db *gorm.DB,
	sessions *auth.SessionManager,
	memoryRefresh *auth.MemoryRefreshStore,
	memoryLimiter *auth.MemoryRateLimiter,
) {
	cleanup := time.NewTicker(10 * time.Minute)
	defer cleanup.Stop()
	pool := time.NewTicker(15 * time.Second)
	defer pool.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if _, err := sessions.CleanupExpired(ctx); err != nil {
				log.Warn("session cleanup failed", zap.Error(err))
			}
			if memoryRefresh != nil {
				memoryRefresh.Cleanup()
			}
			if memoryLimiter != nil {
				memoryLimiter.Cleanup(time.Hour)
			}
		case <-pool.C:
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				metrics.DBOpenConns.WithLabelValues("primary").Set(float64(stats.OpenConnections))
				metrics.DBIdleConns.WithLabelValues("primary").Set(float64(stats.Idle))
				metrics.DBInUseConns.WithLabelValues("primary").Set(float64(stats.InUse))
			}
		}
	}
}
