package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// createWidgetRequest is the request body for POST /widgets.
type createWidgetRequest struct {
	DeviceID   string         `json:"device_id"`
	InstanceID string         `json:"instance_id"`
	Config     map[string]any `json:"config"`
}

// handleCreateWidget creates a widget instance on a device.
func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	var req createWidgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.InstanceID == "" {
		writeBadRequest(w, "device_id and instance_id are required")
		return
	}

	if err := s.bridge.Widgets().CreateInstance(req.DeviceID, req.InstanceID, req.Config); err != nil {
		writeBridgeError(w, err)
		return
	}

	inst, _ := s.bridge.Widgets().GetInstance(req.InstanceID)
	writeJSON(w, http.StatusCreated, inst)
}

// handleGetWidget returns one widget instance.
func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.bridge.Widgets().GetInstance(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "widget not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleRemoveWidget deletes a widget instance and releases its
// subscriptions.
func (s *Server) handleRemoveWidget(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Widgets().RemoveInstance(chi.URLParam(r, "id")); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// handleUpdateWidgetConfig shallow-merges a config patch into a widget.
func (s *Server) handleUpdateWidgetConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	instanceID := chi.URLParam(r, "id")
	if err := s.bridge.Widgets().UpdateConfig(instanceID, patch); err != nil {
		writeBridgeError(w, err)
		return
	}

	inst, _ := s.bridge.Widgets().GetInstance(instanceID)
	writeJSON(w, http.StatusOK, inst)
}

// handleUpdateWidgetData shallow-merges a data patch into a widget.
func (s *Server) handleUpdateWidgetData(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	instanceID := chi.URLParam(r, "id")
	if err := s.bridge.Widgets().UpdateData(instanceID, patch); err != nil {
		writeBridgeError(w, err)
		return
	}

	inst, _ := s.bridge.Widgets().GetInstance(instanceID)
	writeJSON(w, http.StatusOK, inst)
}

// subscriptionRequest is the body for subscribe/unsubscribe calls.
type subscriptionRequest struct {
	DataSource string `json:"data_source"`
}

// handleSubscribeWidget subscribes a widget to a data source.
func (s *Server) handleSubscribeWidget(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DataSource == "" {
		writeBadRequest(w, "data_source is required")
		return
	}

	if err := s.bridge.Widgets().Subscribe(chi.URLParam(r, "id"), req.DataSource); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribed": req.DataSource})
}

// handleUnsubscribeWidget removes a widget's data-source subscription.
func (s *Server) handleUnsubscribeWidget(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.bridge.Widgets().Unsubscribe(chi.URLParam(r, "id"), req.DataSource); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unsubscribed": req.DataSource})
}

// handleListDeviceWidgets returns all widget instances on a device.
func (s *Server) handleListDeviceWidgets(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	widgets := s.bridge.Widgets().InstancesForDevice(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"widgets":   widgets,
		"count":     len(widgets),
	})
}

// handleClearDeviceWidgets removes all widget state for a device.
func (s *Server) handleClearDeviceWidgets(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	s.bridge.Widgets().Clear(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": deviceID})
}

// handleGetGlobalState returns the shared global widget state.
func (s *Server) handleGetGlobalState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Widgets().GlobalState())
}

// handleUpdateGlobalState shallow-merges a patch into the global state.
func (s *Server) handleUpdateGlobalState(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.bridge.Widgets().SetGlobalState(patch)
	writeJSON(w, http.StatusOK, s.bridge.Widgets().GlobalState())
}
