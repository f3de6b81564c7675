package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/graaaaa/activity-telemetry/internal/app"
	"github.com/graaaaa/activity-telemetry/internal/ingest"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

// errorResponse is the standard error response format.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to the response.
// It buffers the encoding to detect errors before writing headers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
		writeErrorFallback(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// writeError writes a JSON error response with consistent format.
// For 5xx errors, the underlying error is logged for debugging.
// The public message is what clients see; use generic messages for 5xx.
func writeError(w http.ResponseWriter, status int, public string, err error) {
	if public == "" {
		public = http.StatusText(status)
	}
	if status >= 500 && err != nil {
		slog.Error("internal error", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: public})
}

// writeUsecaseError maps a use case error to a response. Validation
// failures are the caller's fault and echo the message; anything else is
// a server failure with a generic message.
func writeUsecaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), nil)
	case errors.Is(err, ingest.ErrEmptyBatch),
		errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, store.ErrInvalidEvent),
		errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, store.ErrInvalidCursor),
		errors.Is(err, app.ErrInvalidGroupBy),
		errors.Is(err, app.ErrInvalidRange),
		errors.Is(err, app.ErrInvalidWindow),
		errors.Is(err, app.ErrInvalidRetention):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "query timed out", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// writeDecodeError reports a request body that could not be decoded.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body", nil)
}

// writeErrorFallback writes a plain text error when JSON encoding fails.
// This is a last-resort fallback to avoid infinite recursion.
func writeErrorFallback(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(message))
}
