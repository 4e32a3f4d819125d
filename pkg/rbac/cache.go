package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL is how long a role's permission list is served from cache.
const DefaultCacheTTL = 5 * time.Minute

// PermissionCacheEntry holds a role's permissions and when they were loaded.
type PermissionCacheEntry struct {
	Permissions []Permission `json:"permissions"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Fresh reports whether the entry may still be served at now.
func (e PermissionCacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// CacheStats is a point-in-time summary of a cache.
type CacheStats struct {
	Entries        int           `json:"totalEntries"`
	Hits           uint64        `json:"hits"`
	Misses         uint64        `json:"misses"`
	// OldestEntryAgeMs is the age of the oldest entry in milliseconds.
	OldestEntryAgeMs int64 `json:"oldestEntryAgeMs,omitempty"`
}

// Cache stores role permission lists for a bounded time. A read never
// returns an entry older than the TTL.
type Cache interface {
	Get(ctx context.Context, role Role) ([]Permission, bool)
	Set(ctx context.Context, role Role, permissions []Permission)
	Invalidate(ctx context.Context, roles ...Role)
	Clear(ctx context.Context)
	Stats(ctx context.Context) CacheStats
}

// MemoryCacheConfig configures a MemoryCache.
type MemoryCacheConfig struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries *lru.LRU[Role, PermissionCacheEntry]
	mu      sync.Mutex

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewMemoryCache creates a MemoryCache. Zero values pick a 5 minute TTL and
// room for 256 roles.
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &MemoryCache{
		ttl: cfg.TTL,
		now: cfg.Now,
		// The LRU's own expiry runs on wall time and only bounds memory;
		// freshness is decided by the entry timestamp against c.now.
		entries: lru.NewLRU[Role, PermissionCacheEntry](cfg.MaxEntries, nil, cfg.TTL),
	}
}

// TTL returns the configured time to live.
func (c *MemoryCache) TTL() time.Duration {
	return c.ttl
}

// Get returns role's permissions if a fresh entry exists. Stale entries are
// dropped.
func (c *MemoryCache) Get(_ context.Context, role Role) ([]Permission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(role)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !entry.Fresh(c.now(), c.ttl) {
		c.entries.Remove(role)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return copyPermissions(entry.Permissions), true
}

// Set stores permissions for role, stamped with the current time.
func (c *MemoryCache) Set(_ context.Context, role Role, permissions []Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(role, PermissionCacheEntry{
		Permissions: copyPermissions(permissions),
		Timestamp:   c.now(),
	})
}

// Invalidate drops the entries for roles.
func (c *MemoryCache) Invalidate(_ context.Context, roles ...Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, role := range roles {
		c.entries.Remove(role)
	}
}

// Clear drops every entry.
func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Sweep removes stale entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, role := range c.entries.Keys() {
		entry, ok := c.entries.Peek(role)
		if !ok {
			continue
		}
		if !entry.Fresh(now, c.ttl) {
			c.entries.Remove(role)
			removed++
		}
	}
	return removed
}

// Stats returns the current entry count, hit and miss counters and the age
// of the oldest entry.
func (c *MemoryCache) Stats(_ context.Context) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries: c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}

	now := c.now()
	var oldest time.Duration
	for _, role := range c.entries.Keys() {
		entry, ok := c.entries.Peek(role)
		if !ok {
			continue
		}
		if age := now.Sub(entry.Timestamp); age > oldest {
			oldest = age
		}
	}
	stats.OldestEntryAgeMs = oldest.Milliseconds()
	return stats
}

func copyPermissions(perms []Permission) []Permission {
	if perms == nil {
		return []Permission{}
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
