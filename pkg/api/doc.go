// Package api provides the accessgate HTTP API.
//
// Every request passes through recovery, request id, logging, security
// headers, an optional session lookup and the emulation resolver before it
// reaches the router. Routes then add their own guards:
//
//	GET    /api/health                    none
//	GET    /api/csrf                      none
//	GET    /api/me                        session
//	GET    /api/access/{level}            session
//	POST   /api/auth/signout              CSRF, session
//	GET    /api/admin/emulation           session, original role admin
//	POST   /api/admin/start-emulation     CSRF, session, rate limit, original role admin
//	POST   /api/admin/stop-emulation      CSRF, session, rate limit, original role admin
//	GET    /api/admin/permissions/{role}  session, effective role admin
//	DELETE /api/admin/permissions/cache   session, effective role admin, CSRF
//	GET    /api/admin/audit-logs          session, admin:audit_logs permission
//
// The emulation controls authorize against the real role so an admin who is
// emulating a lower role can still stop.
//
// Usage:
//
//	server, err := api.NewServer(api.Dependencies{...})
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", server)
package api
