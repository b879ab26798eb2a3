package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeReadOnly           = "read_only"
	ErrCodeUnknownProperty    = "unknown_property"
	ErrCodeInvalidValue       = "invalid_value"
	ErrCodeRejected           = "rejected"
	ErrCodeInternal           = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeTimeout            = "timeout"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeEngineError maps an engine error to its HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wpan.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, wpan.ErrUnknownProperty):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownProperty, err.Error())
	case errors.Is(err, wpan.ErrReadOnly):
		writeError(w, http.StatusBadRequest, ErrCodeReadOnly, err.Error())
	case errors.Is(err, wpan.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, err.Error())
	case errors.Is(err, wpan.ErrRejected):
		writeError(w, http.StatusConflict, ErrCodeRejected, err.Error())
	case errors.Is(err, wpan.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "engine stopped")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "engine did not answer in time")
	default:
		writeInternalError(w, "engine request failed")
	}
}
