package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// handleListEvents returns the device event journal, newest first.
//
// Query parameters:
//   - device_id: only events for one device
//   - kind: registered, disconnected, heartbeat_timeout, recovered,
//     config_updated, status_reported
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, r.URL.Query().Get("device_id"))
}

// handleDeviceEvents returns the journal for one device.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, deviceID string) {
	if s.events == nil {
		writeUnavailable(w, "event journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := device.EventFilter{
		DeviceID: deviceID,
		Kind:     device.EventKind(q.Get("kind")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing device events", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
