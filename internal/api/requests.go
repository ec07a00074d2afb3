package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// deviceRequestBody is the request body for POST /devices/{id}/request.
// Payload is forwarded to the device verbatim; TimeoutMs overrides the
// bridge default when positive.
type deviceRequestBody struct {
	Payload   json.RawMessage `json:"payload"`
	TimeoutMs int             `json:"timeout_ms"`
}

// handleDeviceRequest forwards a request payload to a connected device
// and blocks until its reply arrives or the request fails.
//
// The caller's HTTP connection maps one-to-one onto a pending bridge
// request: closing the connection cancels it, the device's eventual
// reply is then dropped as stale.
func (s *Server) handleDeviceRequest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var body deviceRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Payload) == 0 {
		writeBadRequest(w, "payload is required")
		return
	}

	timeout := time.Duration(body.TimeoutMs) * time.Millisecond

	reply, err := s.bridge.SendRequest(r.Context(), deviceID, body.Payload, timeout)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"reply":     reply,
	})
}
