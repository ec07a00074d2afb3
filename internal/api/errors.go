package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openhalo/halo-bridge/internal/bridge"
	"github.com/openhalo/halo-bridge/internal/widget"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeDeviceUnavailable = "device_unavailable"
	ErrCodeTimeout           = "timeout"
	ErrCodeTooManyPending    = "too_many_pending"
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

// writeBridgeError maps bridge and widget domain errors onto HTTP
// responses so callers can distinguish an absent device from a silent
// one.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrDeviceUnavailable), errors.Is(err, bridge.ErrSendFailed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnavailable, err.Error())
	case errors.Is(err, bridge.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, bridge.ErrTooManyPending):
		writeError(w, http.StatusTooManyRequests, ErrCodeTooManyPending, err.Error())
	case errors.Is(err, widget.ErrDuplicateInstance):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, widget.ErrUnknownInstance):
		writeNotFound(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
