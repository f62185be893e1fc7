package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/credential-service/pkg/database"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RedisRateLimiter implements a sliding window log in a Redis sorted set
type RedisRateLimiter struct {
	redis *database.Redis
	now   func() time.Time
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter
func NewRedisRateLimiter(redis *database.Redis) *RedisRateLimiter {
	return &RedisRateLimiter{redis: redis, now: time.Now}
}

// Allow checks if a request is allowed based on rate limit
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-window)
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		return nil
	})
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to read rate limit window: %w", err)
	}

	if count.Val() >= int64(limit) {
		retryAfter := window
		if entries := oldest.Val(); len(entries) > 0 {
			oldestAt := time.Unix(0, int64(entries[0].Score))
			retryAfter = window - now.Sub(oldestAt)
		}
		return RateLimitResult{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	_, err = r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: uuid.NewString(),
		})
		pipe.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to record request: %w", err)
	}

	return RateLimitResult{Allowed: true, Remaining: limit - int(count.Val()) - 1}, nil
}

// MemoryRateLimiter is a per-process token bucket limiter for single-instance deployments
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*memoryLimiter
	now      func() time.Time
}

type memoryLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const memoryLimiterPruneThreshold = 10000

// NewMemoryRateLimiter creates a new in-memory rate limiter
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limiters: make(map[string]*memoryLimiter),
		now:      time.Now,
	}
}

// Allow refills limit tokens per window with a burst of limit
func (m *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	if limit <= 0 {
		return RateLimitResult{Allowed: false, RetryAfter: window}, nil
	}
	now := m.now()

	m.mu.Lock()
	entry, exists := m.limiters[key]
	if !exists {
		if len(m.limiters) >= memoryLimiterPruneThreshold {
			m.prune(now, window)
		}
		entry = &memoryLimiter{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		m.limiters[key] = entry
	}
	entry.lastSeen = now
	m.mu.Unlock()

	if !entry.limiter.AllowN(now, 1) {
		return RateLimitResult{Allowed: false, RetryAfter: window / time.Duration(limit)}, nil
	}

	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: true, Remaining: remaining}, nil
}

// prune drops limiters idle for longer than window; caller holds mu
func (m *MemoryRateLimiter) prune(now time.Time, window time.Duration) {
	for key, entry := range m.limiters {
		if now.Sub(entry.lastSeen) > window {
			delete(m.limiters, key)
		}
	}
}
