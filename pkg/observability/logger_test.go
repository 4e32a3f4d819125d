package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel logrus.Level
		wantJSON  bool
	}{
		{"json info", "info", "json", logrus.InfoLevel, true},
		{"text debug", "debug", "text", logrus.DebugLevel, false},
		{"unknown level falls back to info", "loud", "json", logrus.InfoLevel, true},
		{"unknown format logs json", "warn", "xml", logrus.WarnLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, tt.format, &buf)

			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.wantLevel)
			}

			logger.WithField("component", "test").Error("hello")
			var decoded map[string]interface{}
			isJSON := json.Unmarshal(buf.Bytes(), &decoded) == nil
			if isJSON != tt.wantJSON {
				t.Errorf("json output = %v, want %v (output %q)", isJSON, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	logger, hook := test.NewNullLogger()

	ctx := contextkeys.WithLogger(context.Background(), logger.WithField("component", "api"))
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")

	FromContext(ctx).Info("handled")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Data["component"] != "api" {
		t.Errorf("component = %v", entry.Data["component"])
	}
	if entry.Data["request_id"] != "req-1" || entry.Data["user_id"] != "user-1" {
		t.Errorf("fields = %v", entry.Data)
	}
}

func TestFromContext_Fallback(t *testing.T) {
	entry := FromContext(context.Background())
	if entry.Logger != logrus.StandardLogger() {
		t.Error("expected the standard logger without a context logger")
	}
}

func TestWithTraceContext(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := logrus.NewEntry(logger)

	WithTraceContext(context.Background(), entry).Info("no span")
	if _, ok := hook.LastEntry().Data["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	WithTraceContext(ctx, entry).Info("with span")
	data := hook.LastEntry().Data
	if data["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", data["trace_id"])
	}
	if !strings.EqualFold(data["span_id"].(string), span.SpanContext().SpanID().String()) {
		t.Errorf("span_id = %v", data["span_id"])
	}
}
