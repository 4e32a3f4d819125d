// Package audit records security-relevant actions: emulation start and stop,
// access denials, logouts, permission cache flushes, CSRF failures and rate
// limit rejections.
//
// # Loggers
//
//   - DBLogger: PostgreSQL audit_logs table (created on startup), JSONB
//     metadata, statements routed through the database circuit breaker
//   - LogrusLogger: structured log lines, used when no database is configured
//   - Fanout: delivers each event to several loggers
//   - AsyncLogger: background writes via async.Group
//
// Archiver copies events past retention to S3 as JSON lines before
// deleting them, and can stand in for DBLogger in the retention job.
//
// # Usage Example
//
//	logger.LogAdminAction(ctx, audit.EventTypeEmulationStart, session.UserID, session.UserID, r,
//		map[string]interface{}{"targetRole": "org_admin", "organizationId": orgID})
//
// Search recent denials:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		EventTypes: []audit.EventType{audit.EventTypeAccessDenied},
//		Limit:      50,
//	})
package audit
