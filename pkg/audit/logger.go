package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAdminAction records an admin action taken by actorID against targetID
	LogAdminAction(ctx context.Context, eventType EventType, actorID, targetID string, r *http.Request, metadata map[string]interface{}) error

	// Close closes the logger and flushes any pending events
	Close() error
}

// NewEvent builds an event carrying the request context: client ip, user
// agent, request id, method and path. r may be nil.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if r != nil {
		event.IPAddress = httputil.ClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
		if event.RequestID == "" {
			event.RequestID = contextkeys.GetRequestID(r.Context())
		}
	}

	return event
}

// adminActionEvent is the shared LogAdminAction body.
func adminActionEvent(ctx context.Context, eventType EventType, actorID, targetID string, r *http.Request, metadata map[string]interface{}) *AuditEvent {
	event := NewEvent(ctx, r, eventType, EventStatusSuccess)
	event.UserID = actorID
	event.TargetUserID = targetID
	for k, v := range metadata {
		event.Metadata[k] = v
	}
	if msg, ok := metadata["message"].(string); ok {
		event.Message = msg
		delete(event.Metadata, "message")
	}
	return event
}

// NopLogger discards every event.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *AuditEvent) error { return nil }

func (NopLogger) LogAdminAction(context.Context, EventType, string, string, *http.Request, map[string]interface{}) error {
	return nil
}

func (NopLogger) Close() error { return nil }
