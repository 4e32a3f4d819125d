package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/async"
)

// AsyncLogger hands events to a background task so request paths never
// wait on audit storage. Failures are logged, not returned.
type AsyncLogger struct {
	next         Logger
	tasks        *async.Group
	writeTimeout time.Duration
	closeTimeout time.Duration
}

// NewAsyncLogger wraps next. writeTimeout bounds each background write.
func NewAsyncLogger(next Logger, logger logrus.FieldLogger, writeTimeout time.Duration) *AsyncLogger {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &AsyncLogger{
		next:         next,
		tasks:        async.NewGroup(logger),
		writeTimeout: writeTimeout,
		closeTimeout: 10 * time.Second,
	}
}

// Log schedules the write. The request context's values are kept but its
// cancellation is not, so the write outlives the request.
func (a *AsyncLogger) Log(ctx context.Context, event *AuditEvent) error {
	name := fmt.Sprintf("audit %s", event.EventType)
	if !a.tasks.Go(context.WithoutCancel(ctx), a.writeTimeout, name, func(ctx context.Context) error {
		return a.next.Log(ctx, event)
	}) {
		return fmt.Errorf("audit logger closed")
	}
	return nil
}

// LogAdminAction logs an admin action event
func (a *AsyncLogger) LogAdminAction(ctx context.Context, eventType EventType, actorID, targetID string, r *http.Request, metadata map[string]interface{}) error {
	return a.Log(ctx, adminActionEvent(ctx, eventType, actorID, targetID, r, metadata))
}

// Close waits for pending writes, then closes the wrapped logger.
func (a *AsyncLogger) Close() error {
	drainErr := a.tasks.Close(a.closeTimeout)
	if err := a.next.Close(); err != nil {
		return err
	}
	return drainErr
}
