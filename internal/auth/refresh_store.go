package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshStore tracks the set of redeemable refresh tokens by jti.
// Consume removes the token atomically, which enforces single use.
type RefreshStore interface {
	Save(ctx context.Context, jti string, ttl time.Duration) error
	Consume(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) error
}

const refreshKeyPrefix = "refresh:"

// RedisRefreshStore keeps active refresh tokens in Redis with a TTL
// matching the token lifetime.
type RedisRefreshStore struct {
	client *redis.Client
}

// NewRedisRefreshStore creates a Redis-backed refresh store.
func NewRedisRefreshStore(client *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{client: client}
}

func (s *RedisRefreshStore) Save(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, refreshKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

func (s *RedisRefreshStore) Consume(ctx context.Context, jti string) (bool, error) {
	_, err := s.client.GetDel(ctx, refreshKeyPrefix+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	return true, nil
}

func (s *RedisRefreshStore) Revoke(ctx context.Context, jti string) error {
	return s.client.Del(ctx, refreshKeyPrefix+jti).Err()
}

// MemoryRefreshStore is the single-process fallback used when Redis is
// not configured.
type MemoryRefreshStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryRefreshStore creates an in-memory refresh store.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{expires: make(map[string]time.Time)}
}

func (s *MemoryRefreshStore) Save(ctx context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[jti] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryRefreshStore) Consume(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[jti]
	if !ok {
		return false, nil
	}
	delete(s.expires, jti)
	if time.Now().After(exp) {
		return false, nil
	}
	return true, nil
}

func (s *MemoryRefreshStore) Revoke(ctx context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, jti)
	return nil
}

// Cleanup drops expired entries. Called periodically from the server's
// maintenance loop.
func (s *MemoryRefreshStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for jti, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, jti)
			removed++
		}
	}
	return removed
}
