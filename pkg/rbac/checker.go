package rbac

import (
	"context"
	"fmt"
	"time"
)

// Guard runs an operation against the authoritative store with a timeout.
// *breaker.Breaker satisfies it.
type Guard interface {
	Execute(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error
}

// LookupObserver is told whether each permission lookup hit the cache.
type LookupObserver func(hit bool)

// Checker resolves a role's permissions through the cache, falling back to
// the source. Fetches from the source go through the guard.
type Checker struct {
	source   Source
	cache    Cache
	guard    Guard
	timeout  time.Duration
	observer LookupObserver
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithGuard runs source lookups through g.
func WithGuard(g Guard) CheckerOption {
	return func(c *Checker) { c.guard = g }
}

// WithFetchTimeout bounds each source lookup. Zero leaves the guard's
// default in place.
func WithFetchTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) { c.timeout = d }
}

// WithLookupObserver registers a hit/miss callback.
func WithLookupObserver(fn LookupObserver) CheckerOption {
	return func(c *Checker) { c.observer = fn }
}

// NewChecker creates a permission checker. A nil cache disables caching.
func NewChecker(source Source, cache Cache, opts ...CheckerOption) *Checker {
	c := &Checker{
		source: source,
		cache:  cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Permissions returns the permissions granted to role. Unknown roles have
// none and never reach the source. A failed fetch is returned as an error
// and leaves the cache untouched.
func (c *Checker) Permissions(ctx context.Context, role Role) ([]Permission, error) {
	if !IsKnown(role) {
		return []Permission{}, nil
	}

	if c.cache != nil {
		if perms, ok := c.cache.Get(ctx, role); ok {
			c.observe(true)
			return perms, nil
		}
	}
	c.observe(false)

	var perms []Permission
	fetch := func(ctx context.Context) error {
		p, err := c.source.PermissionsForRole(ctx, role)
		if err != nil {
			return err
		}
		perms = p
		return nil
	}

	var err error
	if c.guard != nil {
		err = c.guard.Execute(ctx, c.timeout, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for %s: %w", role, err)
	}

	perms = normalize(perms)
	if c.cache != nil {
		c.cache.Set(ctx, role, perms)
	}
	return perms, nil
}

// HasPermission reports whether role grants permission.
func (c *Checker) HasPermission(ctx context.Context, role Role, permission Permission) (bool, error) {
	perms, err := c.Permissions(ctx, role)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops cached permissions for roles, e.g. after the
// role_permissions table changes.
func (c *Checker) Invalidate(ctx context.Context, roles ...Role) {
	if c.cache != nil {
		c.cache.Invalidate(ctx, roles...)
	}
}

// Clear drops every cached permission list.
func (c *Checker) Clear(ctx context.Context) {
	if c.cache != nil {
		c.cache.Clear(ctx)
	}
}

// CacheStats reports on the underlying cache.
func (c *Checker) CacheStats(ctx context.Context) CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.Stats(ctx)
}

func (c *Checker) observe(hit bool) {
	if c.observer != nil {
		c.observer(hit)
	}
}
