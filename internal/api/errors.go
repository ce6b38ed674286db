package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// RequestID is the device server request id, when one was assigned.
	RequestID int64 `json:"request_id,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeTimeout     = "timeout"
	ErrCodeRemote      = "remote_error"
	ErrCodeBadReply    = "bad_reply"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCallError writes the response for a failed device server request.
func writeCallError(w http.ResponseWriter, requestID int64, err error) {
	status, code := classifyCallError(err)
	msg := err.Error()
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		msg = remote.Message
	}
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   msg,
		RequestID: requestID,
	})
}

// classifyCallError maps an rpc error to an HTTP status and error code.
func classifyCallError(err error) (int, string) {
	var remote *rpc.RemoteError
	switch {
	case errors.Is(err, rpc.ErrInvalidMethod):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, rpc.ErrNotConnected), errors.Is(err, rpc.ErrQueueFull),
		errors.Is(err, rpc.ErrConnectionLost):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.As(err, &remote):
		return http.StatusBadGateway, ErrCodeRemote
	case errors.Is(err, rpc.ErrNoResult), errors.Is(err, rpc.ErrMissingKey),
		errors.Is(err, rpc.ErrTypeMismatch):
		return http.StatusBadGateway, ErrCodeBadReply
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
