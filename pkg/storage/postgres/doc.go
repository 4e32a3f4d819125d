// Package postgres opens the PostgreSQL pools used by the permission store
// and the audit logger.
//
// Open returns ErrNotConfigured when no URL is set, which callers treat as
// "run without a database".
package postgres
