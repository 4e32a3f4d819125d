package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
		want        string
	}{
		{name: "valid JSON", body: `{"name": "test"}`, want: "test"},
		{name: "invalid JSON", body: `{invalid}`, expectError: true},
		{name: "empty body", body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest struct {
				Name string `json:"name"`
			}

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, dest.Name)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`[`))
	var dest map[string]string

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/admin/permissions/org_admin", nil)
	req = mux.SetURLVars(req, map[string]string{"role": "org_admin"})

	val, err := ParsePathString(req, "role")
	assert.NoError(t, err)
	assert.Equal(t, "org_admin", val)

	_, err = ParsePathString(req, "missing")
	assert.Error(t, err)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:   "remote addr only",
			remote: "10.0.0.9:51234",
			want:   "10.0.0.9",
		},
		{
			name:    "x-real-ip wins",
			headers: map[string]string{"X-Real-IP": "203.0.113.5", "CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "192.0.2.1"},
			remote:  "10.0.0.9:1",
			want:    "203.0.113.5",
		},
		{
			name:    "cloudflare before true-client-ip",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.1", "True-Client-IP": "198.51.100.2"},
			want:    "198.51.100.1",
		},
		{
			name:    "x-client-ip",
			headers: map[string]string{"X-Client-IP": "2001:db8::1"},
			want:    "2001:db8::1",
		},
		{
			name:    "first valid forwarded entry",
			headers: map[string]string{"X-Forwarded-For": "unknown, 192.0.2.7, 192.0.2.8"},
			want:    "192.0.2.7",
		},
		{
			name:    "garbage header ignored",
			headers: map[string]string{"X-Real-IP": "not-an-ip"},
			remote:  "10.1.1.1:80",
			want:    "10.1.1.1",
		},
		{
			name:   "remote without port",
			remote: "10.2.2.2",
			want:   "10.2.2.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
