package middleware

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "accessgate:rl"

// RedisLimiter is a fixed window limiter shared by every instance pointing at
// the same redis. Each window is one counter key that expires with the
// window. Redis errors fail open.
type RedisLimiter struct {
	redis  *redis.Client
	prefix string
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisLimiter(client *redis.Client, prefix string, logger logrus.FieldLogger) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &RedisLimiter{
		redis:  client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// Allow implements Limiter. Unlike FixedWindowLimiter the counter keeps
// counting refused calls; the window still ends at the key's expiry.
func (l *RedisLimiter) Allow(ctx context.Context, key string, cfg RateLimitConfig) RateLimitResult {
	redisKey := l.key(key)
	now := l.now()

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(key, cfg, now, err)
	}

	// A fresh counter (or one that lost its expiry) starts the window.
	ttl := pttl.Val()
	if ttl < 0 {
		if err := l.redis.PExpire(ctx, redisKey, cfg.Window).Err(); err != nil {
			return l.failOpen(key, cfg, now, err)
		}
		ttl = cfg.Window
	}

	count := int(incr.Val())
	result := RateLimitResult{
		Success: count <= cfg.Max,
		ResetAt: now.Add(ttl),
		Limit:   cfg.Max,
	}
	if result.Success {
		result.Remaining = cfg.Max - count
	}
	return result
}

// Name implements Limiter.
func (l *RedisLimiter) Name() string { return "redis" }

// Reset clears the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.key(key)).Err()
}

// HealthCheck verifies redis connectivity.
func (l *RedisLimiter) HealthCheck(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}

func (l *RedisLimiter) failOpen(key string, cfg RateLimitConfig, now time.Time, err error) RateLimitResult {
	l.logger.WithError(err).WithField("key", key).Warn("Rate limit backend unavailable, allowing request")
	return RateLimitResult{
		Success:   true,
		Remaining: cfg.Max,
		ResetAt:   now.Add(cfg.Window),
		Limit:     cfg.Max,
	}
}
