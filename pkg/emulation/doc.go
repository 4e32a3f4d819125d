// Package emulation lets an administrator act as a lower or equal tier role
// for support and testing.
//
// # Overview
//
// The emulation record travels in the signed role_emulation cookie (HS256
// JWT). Resolver.Middleware decodes it once per request into an Identity:
//
//	id, _ := emulation.IdentityFromContext(r.Context())
//	if !id.CheckAccess(rbac.LevelStaff) { ... }
//
// A cookie is ignored, logged and cleared when it is malformed, expired,
// issued to another user, minted for a different original role, or names a
// target the session's real role may not emulate. Accepted cookies therefore
// never raise the effective tier above the session's own.
//
// # Starting and Stopping
//
// Service.Start checks the caller's real role (never the emulated one),
// clamps the duration to 1h..24h and writes an admin.emulation_start audit
// event. Service.Stop clears the cookie and writes admin.emulation_stop.
package emulation
