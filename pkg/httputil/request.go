package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into dest. A missing or empty body is
// not an error and leaves dest as it was.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dest)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		return fmt.Errorf("invalid JSON: %w", err)
	}
}

// ParseJSONOrError is ParseJSON that answers 400 itself. Handlers return
// when it reports false.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	if err != nil {
		WriteBadRequest(w, err.Error())
	}
	return err == nil
}

// ParsePathString returns the named mux variable, which must be non-empty.
func ParsePathString(r *http.Request, key string) (string, error) {
	if v, ok := mux.Vars(r)[key]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing path parameter: %s", key)
}

// ParsePathStringOrError is ParsePathString that answers 400 itself.
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
	}
	return v, err == nil
}

// Single-address proxy headers, highest priority first. X-Forwarded-For is
// checked after all of them.
var clientIPHeaders = [...]string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP", "X-Client-IP"}

// ClientIP returns the address the rate limiter and audit log attribute a
// request to. The first proxy header holding a valid IP wins, then the
// first valid X-Forwarded-For hop, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	candidates := make([]string, 0, len(clientIPHeaders)+4)
	for _, h := range clientIPHeaders {
		candidates = append(candidates, r.Header.Get(h))
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		candidates = append(candidates, strings.Split(xff, ",")...)
	}
	for _, c := range candidates {
		if ip := strings.TrimSpace(c); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
