package rbac

import (
	"context"
	"testing"
)

// StubSource is an in-memory Source that counts lookups and can be told
// to fail. It is exported for tests in dependent packages.
type StubSource struct {
	Table map[Role][]Permission
	Err   error
	Calls int
}

// PermissionsForRole implements Source.
func (s *StubSource) PermissionsForRole(_ context.Context, role Role) ([]Permission, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]Permission(nil), s.Table[role]...), nil
}

// NewTestChecker returns a Checker over the default permission table with an
// in-memory cache and no guard.
func NewTestChecker(t *testing.T) *Checker {
	t.Helper()
	return NewChecker(DefaultStaticSource(), NewMemoryCache(MemoryCacheConfig{}))
}
