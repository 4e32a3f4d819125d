package audit

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log lines. It is the sink
// used when no database is configured.
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates a log-backed audit logger
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusLogger{logger: logger.WithField("component", "audit")}
}

// Log writes event at info level, or warn for denied and failed events.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"timestamp":  event.Timestamp,
	}
	addField(fields, "user_id", event.UserID)
	addField(fields, "organization_id", event.OrganizationID)
	addField(fields, "target_user_id", event.TargetUserID)
	addField(fields, "original_role", event.OriginalRole)
	addField(fields, "effective_role", event.EffectiveRole)
	addField(fields, "ip_address", event.IPAddress)
	addField(fields, "request_id", event.RequestID)
	addField(fields, "method", event.Method)
	addField(fields, "path", event.Path)
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}

	msg := event.Message
	if msg == "" {
		msg = "audit event"
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// LogAdminAction logs an admin action event
func (l *LogrusLogger) LogAdminAction(ctx context.Context, eventType EventType, actorID, targetID string, r *http.Request, metadata map[string]interface{}) error {
	return l.Log(ctx, adminActionEvent(ctx, eventType, actorID, targetID, r, metadata))
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}

func addField(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
