package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// handleListDevices returns all currently connected devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	sessions := s.bridge.Registry().Sessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].DeviceID < sessions[j].DeviceID
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": sessions,
		"count":   len(sessions),
	})
}

// handleGetDevice returns the session for one device, including its
// widget instances.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	for _, session := range s.bridge.Registry().Sessions() {
		if session.DeviceID == deviceID {
			writeJSON(w, http.StatusOK, map[string]any{
				"session": session,
				"widgets": s.bridge.Widgets().InstancesForDevice(deviceID),
			})
			return
		}
	}

	// A disconnected device may still have widget state waiting for its
	// reconnect; report that rather than a bare 404.
	if s.bridge.Widgets().HasDevice(deviceID) {
		writeJSON(w, http.StatusOK, map[string]any{
			"session": nil,
			"widgets": s.bridge.Widgets().InstancesForDevice(deviceID),
		})
		return
	}

	writeNotFound(w, "device not connected")
}

// handleStats returns the bridge's internal counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Stats())
}
