package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis, *test.Hook) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	logger, hook := test.NewNullLogger()
	return NewRedisLimiter(client, "", logger), mr, hook
}

func TestRedisLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := setupRedisLimiter(t)
	cfg := RateLimitConfig{Window: time.Second, Max: 3}

	var got []bool
	for i := 0; i < 4; i++ {
		got = append(got, limiter.Allow(ctx, "login:ip:10.0.0.1", cfg).Success)
	}
	assert.Equal(t, []bool{true, true, true, false}, got)

	key := "accessgate:rl:login:ip:10.0.0.1"
	require.True(t, mr.Exists(key))
	assert.Equal(t, time.Second, mr.TTL(key))

	mr.FastForward(time.Second + time.Millisecond)
	result := limiter.Allow(ctx, "login:ip:10.0.0.1", cfg)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Remaining)
}

func TestRedisLimiter_RemainingAndReset(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := setupRedisLimiter(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	cfg := RateLimitConfig{Window: time.Minute, Max: 2}

	first := limiter.Allow(ctx, "k", cfg)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, now.Add(time.Minute), first.ResetAt)

	limiter.Allow(ctx, "k", cfg)
	refused := limiter.Allow(ctx, "k", cfg)
	assert.False(t, refused.Success)
	assert.Equal(t, 0, refused.Remaining)
}

func TestRedisLimiter_RestoresMissingExpiry(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := setupRedisLimiter(t)

	require.NoError(t, mr.Set("accessgate:rl:k", "1"))
	limiter.Allow(ctx, "k", RateLimitConfig{Window: time.Minute, Max: 5})
	assert.Equal(t, time.Minute, mr.TTL("accessgate:rl:k"))
}

func TestRedisLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := setupRedisLimiter(t)
	cfg := RateLimitConfig{Window: time.Minute, Max: 1}

	limiter.Allow(ctx, "k", cfg)
	require.False(t, limiter.Allow(ctx, "k", cfg).Success)

	require.NoError(t, limiter.Reset(ctx, "k"))
	assert.False(t, mr.Exists("accessgate:rl:k"))
	assert.True(t, limiter.Allow(ctx, "k", cfg).Success)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	ctx := context.Background()
	limiter, mr, hook := setupRedisLimiter(t)
	mr.Close()

	result := limiter.Allow(ctx, "k", RateLimitConfig{Window: time.Minute, Max: 1})
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Remaining)
	assert.Error(t, limiter.HealthCheck(ctx))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "redis", limiter.Name())
}
