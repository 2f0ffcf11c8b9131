package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeBusy         = "device_busy"
	ErrCodeCancelled    = "cancelled"
	ErrCodeTimeout      = "timeout"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a device operation error onto an HTTP response.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, adms.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, adms.ErrUnknownTable),
		errors.Is(err, adms.ErrEmptyCommand),
		errors.Is(err, adms.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, adms.ErrCommandBusy):
		writeError(w, http.StatusConflict, ErrCodeBusy, err.Error())
	case errors.Is(err, adms.ErrCommandCancelled), errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, ErrCodeCancelled, err.Error())
	case errors.Is(err, adms.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
