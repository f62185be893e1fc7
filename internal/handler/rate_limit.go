package handler

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/service"
	"go.uber.org/zap"
)

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(rateLimiter service.RateLimiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)

		result, err := rateLimiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			// fail open: an unavailable limiter must not take authentication down
			logger.Error("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(result.Remaining, 0)))

		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			logger.Warn("Rate limit exceeded", zap.String("key", key))
			respondError(c, logger, apperr.ErrRateLimited)
			return
		}

		c.Next()
	}
}

// IPBasedKey extracts rate limit key from client IP. Forwarding headers are
// honoured only when the engine trusts the peer they came from.
func IPBasedKey(c *gin.Context) string {
	return c.ClientIP()
}

// RouteAndIPKey limits each route separately per client IP
func RouteAndIPKey(c *gin.Context) string {
	return c.FullPath() + ":" + IPBasedKey(c)
}
