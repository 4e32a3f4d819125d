package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// WriteErrorMessage writes a JSON error response with an explicit code
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteAppError classifies err and writes the matching status and body.
// Rate limited responses also carry a Retry-After header.
func WriteAppError(w http.ResponseWriter, err error) {
	writeAppError(w, err, time.Now())
}

func writeAppError(w http.ResponseWriter, err error, now time.Time) {
	appErr := apperrors.From(err)
	body := ErrorResponse{
		Error: appErr.Message,
		Code:  string(appErr.Kind),
	}

	if appErr.Kind == apperrors.KindRateLimited {
		body.RetryAfter = appErr.RetryAfter(now)
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}

	_ = WriteJSON(w, appErr.Kind.HTTPStatus(), body)
}

// WriteBadRequest writes a validation error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteAppError(w, apperrors.Validation(message))
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteAppError(w, apperrors.Unauthorized(message))
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteAppError(w, apperrors.Forbidden(message))
}

// WriteInternalError writes a generic 500. The cause is never exposed.
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteAppError(w, apperrors.Internal(err))
}
