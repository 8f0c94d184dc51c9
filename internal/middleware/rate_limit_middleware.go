package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/config"
)

const redisCallTimeout = 2 * time.Second

// RateLimitConfig holds the limit for one group of routes
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
	// PerPath counts each route separately; otherwise the whole group shares one counter per IP.
	PerPath bool
}

// VerificationRateLimitConfig builds the limit for the public verification endpoints.
// Every one of them triggers a provider call, so the default is strict.
func VerificationRateLimitConfig(cfg config.RateLimitConfig) RateLimitConfig {
	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return RateLimitConfig{
		MaxRequests: maxRequests,
		Window:      window,
		KeyPrefix:   "rl:verify",
		PerPath:     true,
	}
}

// OperatorLoginRateLimitConfig guards the operator login against brute force.
func OperatorLoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 5,
		Window:      time.Minute,
		KeyPrefix:   "rl:operator:login",
	}
}

// RateLimiter is a fixed-window limiter backed by Redis INCR/EXPIRE.
// Redis failures let the request through.
type RateLimiter struct {
	redisClient redis.UniversalClient
	logger      zerolog.Logger
}

func NewRateLimiter(redisClient redis.UniversalClient, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger.With().Str("component", "RateLimiter").Logger(),
	}
}

// Limit returns a gin middleware enforcing cfg. The key is prefix + client IP (+ route).
func (rl *RateLimiter) Limit(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		key := cfg.KeyPrefix + ":" + clientIP
		if cfg.PerPath {
			path := c.FullPath()
			if path == "" {
				path = c.Request.URL.Path
			}
			key += ":" + path
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), redisCallTimeout)
		defer cancel()

		count, err := rl.redisClient.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.Warn().Err(err).Str("key", key).Msg("redis error, allowing request")
			c.Next()
			return
		}

		if count == 1 {
			if err := rl.redisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
				rl.logger.Warn().Err(err).Str("key", key).Msg("failed to set window ttl")
			}
		}

		remaining := cfg.MaxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}

		ttl, _ := rl.redisClient.TTL(ctx, key).Result()
		retryAfter := int(ttl.Seconds())
		if retryAfter < 0 {
			retryAfter = int(cfg.Window.Seconds())
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(retryAfter))

		if int(count) > cfg.MaxRequests {
			rl.logger.Info().
				Str("ip", clientIP).
				Str("key", key).
				Int64("count", count).
				Int("limit", cfg.MaxRequests).
				Msg("rate limit exceeded")

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please try again later.",
				"error_type":  "rate_limited",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
