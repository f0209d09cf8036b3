package auth

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/authkit/authkit/pkg/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.SetupJoinTable(&models.User{}, "Roles", &models.UserRole{}))
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Role{}, &models.Session{}))
	return db
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	var role models.Role
	err := db.Where("name = ?", models.RoleUser).
		Attrs(models.Role{ID: uuid.New(), Name: models.RoleUser, CreatedAt: time.Now(), UpdatedAt: time.Now()}).
		FirstOrCreate(&role).Error
	require.NoError(t, err)

	hash, err := HashPassword("Sup3r$ecret")
	require.NoError(t, err)

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Username:     "user" + uuid.NewString()[:8],
		PasswordHash: hash,
		IsActive:     true,
		Roles:        []models.Role{role},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func newTestTokenService(t *testing.T, db *gorm.DB, store RefreshStore) *TokenService {
	t.Helper()
	svc, err := NewTokenService(
		zap.NewNop(), db,
		"access-secret", "refresh-secret",
		30*time.Minute, 7*24*time.Hour,
		"authkit-test",
		store,
	)
	require.NoError(t, err)
	return svc
}
