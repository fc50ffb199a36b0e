package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
)

// RateLimitConfig configures the per-actor request budget.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig allows 120 requests per minute per actor.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 120,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is a Redis-backed fixed-window rate limiter shared across
// instances. Redis unavailability fails open; review and execute decisions
// must not depend on the limiter being up.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	log    *logrus.Entry
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, log *logrus.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: "ratelimit",
		log:    log.WithField("component", "middleware.ratelimit"),
	}
}

// Allow reports whether the keyed caller is under its window budget.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check failed: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Handler wraps an HTTP handler with per-actor rate limiting. Unresolved
// actors are keyed by remote address.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if actor := GetActor(r); actor != nil {
			key = actor.UserID
		}

		allowed, err := rl.Allow(r.Context(), key)
		if err != nil {
			rl.log.WithError(err).Warn("rate limiter unavailable, allowing request")
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.WindowDuration.Seconds())))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
