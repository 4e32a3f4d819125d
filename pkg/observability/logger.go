package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
)

// Log output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// NewLogger creates the process logger. Unknown levels fall back to info and
// any format other than "text" logs JSON. A nil out writes to stdout.
func NewLogger(level, format string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, FormatText) {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// FromContext returns the request-scoped logger stored by
// httputil.LoggingMiddleware, or the standard logger, with request_id and
// user_id attached when the context carries them.
func FromContext(ctx context.Context) *logrus.Entry {
	var entry *logrus.Entry
	switch l := ctx.Value(contextkeys.LoggerKey).(type) {
	case *logrus.Entry:
		entry = l
	case *logrus.Logger:
		entry = logrus.NewEntry(l)
	default:
		entry = logrus.NewEntry(logrus.StandardLogger())
	}

	fields := logrus.Fields{}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	if userID := contextkeys.GetUserID(ctx); userID != "" {
		fields["user_id"] = userID
	}
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	return entry.WithContext(ctx)
}

// WithTraceContext adds trace_id and span_id when ctx carries a recording
// span.
func WithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return entry
	}

	spanCtx := span.SpanContext()
	return entry.WithFields(logrus.Fields{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	})
}
