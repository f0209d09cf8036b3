package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/metrics"
	"github.com/authkit/authkit/pkg/models"
)

const (
	sessionKeyPrefix   = "session:"
	sessionIDKeyPrefix = "session_id:"
)

// cachedSession is the JSON shape stored in Redis per session token.
type cachedSession struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionManager records one session per login in the database and
// caches it in Redis for fast validation. Redis is optional; with a nil
// client every lookup goes to the database.
type SessionManager struct {
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client
	ttl    time.Duration
}

// NewSessionManager creates a session manager with the given session TTL.
func NewSessionManager(logger *zap.Logger, db *gorm.DB, redisClient *redis.Client, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{logger: logger, db: db, redis: redisClient, ttl: ttl}
}

// Create records a new session for a login.
func (m *SessionManager) Create(ctx context.Context, userID uuid.UUID, userAgent, ipAddress string) (*models.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		IsActive:  true,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.cacheSession(ctx, session)
	metrics.SessionsActive.Inc()

	m.logger.Info("session created",
		zap.String("user_id", userID.String()),
		zap.String("session_id", session.ID.String()),
		zap.String("ip_address", ipAddress))

	return session, nil
}

// Validate resolves a session token, checking Redis first and falling
// back to the database when the cache misses or errors.
func (m *SessionManager) Validate(ctx context.Context, token string) (*models.Session, error) {
	if m.redis != nil {
		data, err := m.redis.Get(ctx, sessionKeyPrefix+token).Result()
		if err == nil {
			var cached cachedSession
			if jsonErr := json.Unmarshal([]byte(data), &cached); jsonErr == nil {
				if time.Now().After(cached.ExpiresAt) {
					m.redis.Del(ctx, sessionKeyPrefix+token)
					return nil, apierrors.Unauthorized("session expired")
				}
				return &models.Session{
					ID:        cached.SessionID,
					UserID:    cached.UserID,
					Token:     token,
					IsActive:  true,
					ExpiresAt: cached.ExpiresAt,
				}, nil
			}
		} else if err != redis.Nil {
			m.logger.Warn("redis session lookup failed, falling back to database", zap.Error(err))
		}
	}

	var session models.Session
	err := m.db.WithContext(ctx).
		Where("token = ? AND is_active = ? AND expires_at > ?", token, true, time.Now()).
		First(&session).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.Unauthorized("session invalid")
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	m.cacheSession(ctx, &session)
	return &session, nil
}

// ValidateID reports whether the session carried in an access token is
// still active. Checked on every authenticated request so revocation
// takes effect before the token expires.
func (m *SessionManager) ValidateID(ctx context.Context, sessionID uuid.UUID) error {
	if m.redis != nil {
		data, err := m.redis.Get(ctx, sessionIDKeyPrefix+sessionID.String()).Result()
		if err == nil {
			var cached cachedSession
			if jsonErr := json.Unmarshal([]byte(data), &cached); jsonErr == nil {
				if time.Now().After(cached.ExpiresAt) {
					m.redis.Del(ctx, sessionIDKeyPrefix+sessionID.String())
					return apierrors.Unauthorized("session expired")
				}
				return nil
			}
		} else if err != redis.Nil {
			m.logger.Warn("redis session lookup failed, falling back to database", zap.Error(err))
		}
	}

	var session models.Session
	err := m.db.WithContext(ctx).
		Where("id = ? AND is_active = ? AND expires_at > ?", sessionID, true, time.Now()).
		First(&session).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return apierrors.Unauthorized("session revoked")
		}
		return fmt.Errorf("failed to look up session: %w", err)
	}

	m.cacheSession(ctx, &session)
	return nil
}

// List returns the active, unexpired sessions of a user, marking the one
// matching currentSessionID.
func (m *SessionManager) List(ctx context.Context, userID uuid.UUID, currentSessionID uuid.UUID) ([]models.SessionInfo, error) {
	var sessions []models.Session
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, models.SessionInfo{
			ID:        s.ID,
			UserID:    s.UserID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			IsActive:  s.IsActive,
			IsCurrent: s.ID == currentSessionID,
			ExpiresAt: s.ExpiresAt,
			CreatedAt: s.CreatedAt,
		})
	}
	return infos, nil
}

// Invalidate deactivates a single session. The lookup is scoped to the
// owner so one user cannot log out another's device.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID, userID uuid.UUID) error {
	var session models.Session
	err := m.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if err != nil {
		if apierrors.Is(err, gorm.ErrRecordNotFound) {
			return apierrors.NotFound("session not found")
		}
		return fmt.Errorf("failed to look up session: %w", err)
	}

	if err := m.deactivate(ctx, &session); err != nil {
		return err
	}

	m.logger.Info("session invalidated",
		zap.String("user_id", userID.String()),
		zap.String("session_id", sessionID.String()))
	return nil
}

// InvalidateOthers deactivates every session of the user except the
// current one. Returns the number of sessions removed.
func (m *SessionManager) InvalidateOthers(ctx context.Context, userID, currentSessionID uuid.UUID) (int64, error) {
	var sessions []models.Session
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND id != ? AND is_active = ?", userID, currentSessionID, true).
		Find(&sessions).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	var count int64
	for i := range sessions {
		if err := m.deactivate(ctx, &sessions[i]); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		m.logger.Info("other sessions invalidated",
			zap.String("user_id", userID.String()),
			zap.Int64("count", count))
	}
	return count, nil
}

// InvalidateAll deactivates every session of the user.
func (m *SessionManager) InvalidateAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sessions []models.Session
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&sessions).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	var count int64
	for i := range sessions {
		if err := m.deactivate(ctx, &sessions[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CleanupExpired deactivates expired sessions and deletes rows that have
// been inactive for over a week.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	var expired []models.Session
	err := m.db.WithContext(ctx).
		Where("is_active = ? AND expires_at < ?", true, time.Now()).
		Find(&expired).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find expired sessions: %w", err)
	}

	for i := range expired {
		if err := m.deactivate(ctx, &expired[i]); err != nil {
			return 0, err
		}
	}

	result := m.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", false, time.Now().Add(-7*24*time.Hour)).
		Delete(&models.Session{})
	if result.Error != nil {
		return int64(len(expired)), fmt.Errorf("failed to delete stale sessions: %w", result.Error)
	}

	if len(expired) > 0 || result.RowsAffected > 0 {
		m.logger.Info("cleaned up sessions",
			zap.Int("expired", len(expired)),
			zap.Int64("deleted", result.RowsAffected))
	}
	return int64(len(expired)), nil
}

func (m *SessionManager) deactivate(ctx context.Context, session *models.Session) error {
	result := m.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND is_active = ?", session.ID, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to invalidate session: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.SessionsActive.Dec()
	}
	if m.redis != nil {
		keys := []string{
			sessionKeyPrefix + session.Token,
			sessionIDKeyPrefix + session.ID.String(),
		}
		if err := m.redis.Del(ctx, keys...).Err(); err != nil {
			m.logger.Warn("failed to drop session from redis", zap.Error(err))
		}
	}
	return nil
}

func (m *SessionManager) cacheSession(ctx context.Context, session *models.Session) {
	if m.redis == nil {
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(cachedSession{
		SessionID: session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return
	}
	if err := m.redis.Set(ctx, sessionKeyPrefix+session.Token, payload, ttl).Err(); err != nil {
		m.logger.Warn("failed to cache session in redis", zap.Error(err))
	}
	if err := m.redis.Set(ctx, sessionIDKeyPrefix+session.ID.String(), payload, ttl).Err(); err != nil {
		m.logger.Warn("failed to cache session in redis", zap.Error(err))
	}
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
