package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/credential-service/pkg/database"
)

// RedisTokenBlacklist keeps revoked access token ids in Redis
type RedisTokenBlacklist struct {
	redis *database.Redis
}

// NewRedisTokenBlacklist creates a new token blacklist backed by Redis
func NewRedisTokenBlacklist(redis *database.Redis) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{redis: redis}
}

// Add blacklists a token id for ttl
func (s *RedisTokenBlacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	err := s.redis.Client.Set(ctx, blacklistKey(tokenID), "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// Contains checks if a token id is blacklisted
func (s *RedisTokenBlacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	exists, err := s.redis.Client.Exists(ctx, blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

func blacklistKey(tokenID string) string {
	return fmt.Sprintf("blacklist:token:%s", tokenID)
}
