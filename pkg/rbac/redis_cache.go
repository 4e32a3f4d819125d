package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisCache is a Cache shared between instances through Redis. Redis
// errors are treated as misses so the checker falls back to the source.
type RedisCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
	logger logrus.FieldLogger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCache creates a Redis-backed permission cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &RedisCache{
		redis:  client,
		ttl:    ttl,
		prefix: "accessgate:perms",
		now:    time.Now,
		logger: logger,
	}
}

func (c *RedisCache) key(role Role) string {
	return fmt.Sprintf("%s:%s", c.prefix, role)
}

// Get returns role's permissions if a fresh entry exists.
func (c *RedisCache) Get(ctx context.Context, role Role) ([]Permission, bool) {
	raw, err := c.redis.Get(ctx, c.key(role)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("role", role).Warn("Permission cache read failed")
		}
		c.misses.Add(1)
		return nil, false
	}

	var entry PermissionCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.redis.Del(ctx, c.key(role))
		c.misses.Add(1)
		return nil, false
	}

	// Redis expiry is the primary bound; the timestamp check guards against
	// clock skew between writer and reader.
	if !entry.Fresh(c.now(), c.ttl) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return copyPermissions(entry.Permissions), true
}

// Set stores permissions for role with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, role Role, permissions []Permission) {
	data, err := json.Marshal(PermissionCacheEntry{
		Permissions: copyPermissions(permissions),
		Timestamp:   c.now(),
	})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(role), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("role", role).Warn("Permission cache write failed")
	}
}

// Invalidate drops the entries for roles.
func (c *RedisCache) Invalidate(ctx context.Context, roles ...Role) {
	if len(roles) == 0 {
		return
	}
	keys := make([]string, 0, len(roles))
	for _, role := range roles {
		keys = append(keys, c.key(role))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("Permission cache invalidation failed")
	}
}

// Clear drops every permission entry under the cache prefix.
func (c *RedisCache) Clear(ctx context.Context) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Permission cache clear failed")
		return
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
	}
}

// Stats counts entries with SCAN; OldestEntryAgeMs is not tracked.
func (c *RedisCache) Stats(ctx context.Context) CacheStats {
	keys, _ := c.scanKeys(ctx)
	return CacheStats{
		Entries: len(keys),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *RedisCache) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
