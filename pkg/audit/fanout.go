package audit

import (
	"context"
	"errors"
	"net/http"
)

// Fanout delivers every event to each of its loggers in order. A failing
// logger does not stop delivery to the ones after it.
type Fanout []Logger

// NewFanout drops nil loggers and returns the rest as a Fanout.
func NewFanout(loggers ...Logger) Fanout {
	out := make(Fanout, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (f Fanout) Log(ctx context.Context, event *AuditEvent) error {
	return f.each(func(l Logger) error { return l.Log(ctx, event) })
}

func (f Fanout) LogAdminAction(ctx context.Context, eventType EventType, actorID, targetID string, r *http.Request, metadata map[string]interface{}) error {
	return f.Log(ctx, adminActionEvent(ctx, eventType, actorID, targetID, r, metadata))
}

func (f Fanout) Close() error {
	return f.each(Logger.Close)
}

func (f Fanout) each(fn func(Logger) error) error {
	var errs []error
	for _, l := range f {
		if err := fn(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
