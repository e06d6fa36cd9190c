package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/busnephew-hub/internal/device"
	"github.com/nerrad567/busnephew-hub/internal/hub"
)

// handleListDevices returns devices, optionally filtered.
//
// Query parameters (combined with AND):
//   - type: display, sensor, controller, kiosk
//   - status: connected, disconnected, error
//   - capability: repeatable or comma-separated; all must be present
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &hub.Filter{
		Type:   device.Type(q.Get("type")),
		Status: device.Status(q.Get("status")),
	}
	for _, v := range q["capability"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				filter.Capabilities = append(filter.Capabilities, c)
			}
		}
	}
	if err := validateFilter(filter); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	devices := s.hub.Registry().ListFunc(filter.Predicate())
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns registry counts.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       stats.Total,
		"byStatus":    stats.ByStatus,
		"byType":      stats.ByType,
		"connections": s.hub.ConnectionCount(),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.hub.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// updateConfigRequest is the body of PUT /devices/{id}/config.
type updateConfigRequest struct {
	Config device.Config `json:"config"`
}

// handleUpdateConfig merges keys into a device's config and pushes the
// merged config to it.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Config == nil {
		writeBadRequest(w, "config must be an object")
		return
	}

	if !s.hub.UpdateConfig(id, req.Config) {
		writeNotFound(w, "device not found")
		return
	}

	dev, err := s.hub.Get(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "device config updated",
		"device":  dev,
	})
}

// messageRequest is the body of POST /devices/{id}/message and /broadcast.
type messageRequest struct {
	Type         hub.MessageType `json:"type"`
	Data         json.RawMessage `json:"data"`
	DeviceFilter *hub.Filter     `json:"deviceFilter,omitempty"`
}

func (req *messageRequest) message(deviceID string) hub.Message {
	data := req.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = json.RawMessage("{}")
	}
	return hub.Message{
		Type:      req.Type,
		DeviceID:  deviceID,
		Timestamp: nowTimestamp(),
		Data:      data,
	}
}

func decodeMessageRequest(r *http.Request) (*messageRequest, error) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Type == "" {
		return nil, errors.New("message type is required")
	}
	return &req, nil
}

// handleSendMessage routes an arbitrary message to one device.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := decodeMessageRequest(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if !s.hub.SendTo(id, req.message(id)) {
		writeNotFound(w, "device not found or not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "message sent to device"})
}

// handleBroadcast sends a message to every device matching deviceFilter,
// or to every device when the filter is absent.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMessageRequest(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := validateFilter(req.DeviceFilter); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	sent := s.hub.Broadcast(req.message(""), req.DeviceFilter.Predicate())
	s.logger.Info("operator broadcast", "type", req.Type, "sent", sent, "request_id", r.Context().Value(ctxKeyRequestID))
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("message broadcast to %d devices", sent),
		"sentCount": sent,
	})
}

func validateFilter(f *hub.Filter) error {
	if f == nil {
		return nil
	}
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("unknown device type %q", f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("unknown device status %q", f.Status)
	}
	return nil
}

func nowTimestamp() string {
	return hub.Now()
}
