package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/breaker"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"unauthorized", apperrors.Unauthorized("Authentication required"), http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
		{"forbidden", apperrors.Forbidden("Insufficient permissions"), http.StatusForbidden, "FORBIDDEN", "Insufficient permissions"},
		{"validation", apperrors.Validation("bad role"), http.StatusBadRequest, "VALIDATION_ERROR", "bad role"},
		{"circuit open", fmt.Errorf("query: %w", breaker.ErrCircuitOpen), http.StatusServiceUnavailable, "CIRCUIT_OPEN", "Service temporarily unavailable"},
		{"timeout", breaker.ErrTimeout, http.StatusGatewayTimeout, "TIMEOUT", "Upstream operation timed out"},
		{"internal hides cause", errors.New("pq: password authentication failed"), http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAppError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMsg, body.Error)
			assert.Empty(t, w.Header().Get("Retry-After"))
		})
	}
}

func TestWriteAppError_RateLimited(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := httptest.NewRecorder()

	writeAppError(w, apperrors.RateLimited(now.Add(42*time.Second)), now)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	body := decodeError(t, w)
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.Equal(t, 42, body.RetryAfter)
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		want  int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "nope") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "nope") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "nope") }, http.StatusForbidden},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("boom")) }, http.StatusInternalServerError},
		{"explicit code", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusForbidden, "CSRF_VALIDATION_FAILED", "nope") }, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.want, w.Code)
			assert.NotContains(t, w.Body.String(), "boom")
		})
	}
}

func BenchmarkWriteJSON(b *testing.B) {
	data := map[string]interface{}{"effectiveRole": "org_admin", "isEmulated": true}
	for i := 0; i < b.N; i++ {
		_ = WriteJSON(httptest.NewRecorder(), http.StatusOK, data)
	}
}
