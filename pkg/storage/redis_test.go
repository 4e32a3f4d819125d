package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/config"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), config.RedisConfig{
		URL:      "redis://" + mr.Addr() + "/0",
		PoolSize: 4,
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, "v", mustGet(t, mr, "k"))
	assert.Equal(t, 4, client.Options().PoolSize)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestNewRedisClient_Errors(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{})
	assert.ErrorIs(t, err, ErrRedisNotConfigured)

	_, err = NewRedisClient(context.Background(), config.RedisConfig{URL: "not-a-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisClient(context.Background(), config.RedisConfig{URL: "redis://" + addr, MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
