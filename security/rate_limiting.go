package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles queue joins per caller on the stub backend using a
// fixed window counter in Redis.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// JoinRateLimit limits how often a caller may try to join a queue.
func (r *RateLimiter) JoinRateLimit() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{limiter: r},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if userID := c.Get(CtxUserID); userID != nil {
				return fmt.Sprintf("user:%v", userID), nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return detail(c, http.StatusForbidden, "Unable to identify the caller.")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return detail(c, http.StatusTooManyRequests, "Request was throttled.")
		},
	})
}

// Allow counts one request for identifier in the current window.
func (r *RateLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := "ratelimit:join:" + identifier
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			slog.Warn("rate limit expire failed", "key", key, "error", err)
		}
	}
	return count <= r.limit, nil
}

// redisStore adapts RateLimiter to echo's limiter store.
type redisStore struct {
	limiter *RateLimiter
}

func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	allowed, err := s.limiter.Allow(ctx, identifier)
	if err != nil {
		// An unreachable Redis must not lock everyone out.
		slog.Warn("rate limiter unavailable", "error", err)
		return true, nil
	}
	return allowed, nil
}
