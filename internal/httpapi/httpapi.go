// Package httpapi carries the JSON conventions shared by the control-plane
// and admin REST surfaces: one response writer, one error envelope, one
// request-id scheme.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader propagates caller-supplied correlation ids.
const RequestIDHeader = "X-Request-Id"

// ErrorBody is the stable REST error envelope. Retryable tells callers
// whether repeating the identical request can succeed.
type ErrorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
	RequestID string `json:"requestId"`
}

// RequestID returns the caller's correlation id, minting one when absent.
func RequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// WriteJSON writes a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("writing response body failed", "err", err)
	}
}

// WriteError writes the error envelope for a terminal failure.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeError(w, r, status, code, message, false)
}

// WriteRetryable writes the error envelope for a transient failure the
// caller may repeat.
func WriteRetryable(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeError(w, r, status, code, message, true)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, retryable bool) {
	var body ErrorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Retryable = retryable
	body.RequestID = RequestID(r)
	WriteJSON(w, status, body)
}

// Decode parses a JSON request body into dst, answering 400 on failure.
// Returns false when the caller should stop handling the request.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, r, http.StatusBadRequest, "badRequest", "malformed JSON body")
		return false
	}
	return true
}
