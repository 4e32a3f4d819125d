package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lib/pq"
)

// Guard runs a database operation under a timeout. *breaker.Breaker
// satisfies it.
type Guard interface {
	Execute(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error
}

type directGuard struct{}

func (directGuard) Execute(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(ctx)
}

// DBLoggerOption configures a DBLogger
type DBLoggerOption func(*DBLogger)

// WithGuard routes every statement through g.
func WithGuard(g Guard) DBLoggerOption {
	return func(l *DBLogger) { l.guard = g }
}

// WithTimeout bounds each statement. Defaults to 5s.
func WithTimeout(d time.Duration) DBLoggerOption {
	return func(l *DBLogger) { l.timeout = d }
}

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db      *sql.DB
	guard   Guard
	timeout time.Duration
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(ctx context.Context, db *sql.DB, opts ...DBLoggerOption) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db:      db,
		guard:   directGuard{},
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(logger)
	}

	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id VARCHAR(255),
		organization_id VARCHAR(255),
		target_user_id VARCHAR(255),
		original_role VARCHAR(64),
		effective_role VARCHAR(64),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target_user_id ON audit_logs(target_user_id);
	`

	return l.guard.Execute(ctx, l.timeout, func(ctx context.Context) error {
		_, err := l.db.ExecContext(ctx, query)
		return err
	})
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			user_id, organization_id, target_user_id,
			original_role, effective_role,
			ip_address, user_agent, request_id,
			method, path, message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		) RETURNING id
	`

	err := l.guard.Execute(ctx, l.timeout, func(ctx context.Context) error {
		return l.db.QueryRowContext(ctx, query,
			event.Timestamp, string(event.EventType), string(event.Status),
			nullString(event.UserID), nullString(event.OrganizationID), nullString(event.TargetUserID),
			nullString(event.OriginalRole), nullString(event.EffectiveRole),
			nullString(event.IPAddress), nullString(event.UserAgent), nullString(event.RequestID),
			nullString(event.Method), nullString(event.Path), nullString(event.Message), metadataJSON,
		).Scan(&event.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// LogAdminAction logs an admin action event
func (l *DBLogger) LogAdminAction(ctx context.Context, eventType EventType, actorID, targetID string, r *http.Request, metadata map[string]interface{}) error {
	return l.Log(ctx, adminActionEvent(ctx, eventType, actorID, targetID, r, metadata))
}

// Search returns events matching filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			user_id, organization_id, target_user_id,
			original_role, effective_role,
			ip_address, user_agent, request_id,
			method, path, message, metadata
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND (user_id = $%d OR target_user_id = $%d)", argCount, argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.EffectiveLimit(), filter.Offset)

	var events []*AuditEvent
	err := l.guard.Execute(ctx, l.timeout, func(ctx context.Context) error {
		rows, err := l.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			event, err := scanEvent(rows)
			if err != nil {
				return err
			}
			events = append(events, event)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}

	return events, nil
}

// Cleanup deletes events older than cutoff and returns how many were removed.
func (l *DBLogger) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := l.guard.Execute(ctx, l.timeout, func(ctx context.Context) error {
		result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return removed, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var (
		event             AuditEvent
		eventType, status string
		metadataJSON      []byte
	)
	var userID, orgID, targetID, originalRole, effectiveRole sql.NullString
	var ip, userAgent, requestID, method, path, message sql.NullString

	if err := rows.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&userID, &orgID, &targetID,
		&originalRole, &effectiveRole,
		&ip, &userAgent, &requestID,
		&method, &path, &message, &metadataJSON,
	); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.UserID = userID.String
	event.OrganizationID = orgID.String
	event.TargetUserID = targetID.String
	event.OriginalRole = originalRole.String
	event.EffectiveRole = effectiveRole.String
	event.IPAddress = ip.String
	event.UserAgent = userAgent.String
	event.RequestID = requestID.String
	event.Method = method.String
	event.Path = path.String
	event.Message = message.String

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
