package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, ttl, nil), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t, time.Minute)

	cache.Set(ctx, RoleOrgAdmin, []Permission{"org:read", "org:update"})

	perms, ok := cache.Get(ctx, RoleOrgAdmin)
	require.True(t, ok)
	assert.Equal(t, []Permission{"org:read", "org:update"}, perms)

	assert.True(t, mr.Exists("accessgate:perms:org_admin"))
	assert.Equal(t, time.Minute, mr.TTL("accessgate:perms:org_admin"))

	_, ok = cache.Get(ctx, RoleUser)
	assert.False(t, ok)

	stats := cache.Stats(ctx)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t, time.Minute)

	cache.Set(ctx, RoleUser, []Permission{"template:read"})
	mr.FastForward(time.Minute)

	_, ok := cache.Get(ctx, RoleUser)
	assert.False(t, ok)
}

func TestRedisCache_StaleTimestampIsMiss(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupRedisCache(t, time.Minute)

	written := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return written }
	cache.Set(ctx, RoleUser, []Permission{"template:read"})

	cache.now = func() time.Time { return written.Add(time.Minute) }
	_, ok := cache.Get(ctx, RoleUser)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t, time.Minute)

	require.NoError(t, mr.Set("accessgate:perms:user", "{not json"))
	_, ok := cache.Get(ctx, RoleUser)
	assert.False(t, ok)
	assert.False(t, mr.Exists("accessgate:perms:user"), "corrupt entry is removed")
}

func TestRedisCache_InvalidateAndClear(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t, time.Minute)

	cache.Set(ctx, RoleUser, []Permission{"a"})
	cache.Set(ctx, RoleOrgAdmin, []Permission{"b"})
	cache.Set(ctx, RoleIDGenPrinter, []Permission{"c"})
	require.NoError(t, mr.Set("unrelated", "keep"))

	cache.Invalidate(ctx, RoleUser)
	assert.Equal(t, 2, cache.Stats(ctx).Entries)

	cache.Clear(ctx)
	assert.Equal(t, 0, cache.Stats(ctx).Entries)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCache_UnavailableIsMiss(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t, time.Minute)
	cache.Set(ctx, RoleUser, []Permission{"a"})

	mr.Close()

	_, ok := cache.Get(ctx, RoleUser)
	assert.False(t, ok)
	cache.Set(ctx, RoleUser, []Permission{"b"})
	cache.Invalidate(ctx, RoleUser)
	cache.Clear(ctx)
}

func TestChecker_WithRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupRedisCache(t, time.Minute)
	src := &StubSource{Table: map[Role][]Permission{RoleUser: {"template:read"}}}
	checker := NewChecker(src, cache)

	for i := 0; i < 3; i++ {
		ok, err := checker.HasPermission(ctx, RoleUser, "template:read")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, src.Calls)
}
