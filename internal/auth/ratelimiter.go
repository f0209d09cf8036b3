package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter answers whether a keyed request fits within a fixed-size
// sliding window. When the answer is no, retryAfter says how long until
// the oldest request leaves the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

const rateLimitKeyPrefix = "rate_limit:"

// RedisRateLimiter implements sliding-window rate limiting over a Redis
// sorted set, shared across instances.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter creates a Redis-backed rate limiter.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Allow checks and records one request for the key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	redisKey := rateLimitKeyPrefix + key

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	if countCmd.Val() >= int64(limit) {
		retryAfter := window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = time.Until(oldestAt.Add(window))
		}
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	score := float64(now.UnixNano())
	pipe = rl.client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.Expire(ctx, redisKey, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to record rate limit entry: %w", err)
	}

	return true, 0, nil
}

// MemoryRateLimiter is the single-process fallback used when Redis is
// not configured.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryRateLimiter creates an in-memory rate limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{entries: make(map[string][]time.Time)}
}

// Allow checks and records one request for the key.
func (rl *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-window)

	valid := rl.entries[key][:0]
	for _, at := range rl.entries[key] {
		if at.After(windowStart) {
			valid = append(valid, at)
		}
	}

	if len(valid) >= limit {
		rl.entries[key] = valid
		retryAfter := time.Until(valid[0].Add(window))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	rl.entries[key] = append(valid, now)
	return true, 0, nil
}

// Cleanup drops keys whose every entry is older than maxAge. Called
// periodically from the server's maintenance loop.
func (rl *MemoryRateLimiter) Cleanup(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, entries := range rl.entries {
		stale := true
		for _, at := range entries {
			if at.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}
