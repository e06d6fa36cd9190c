package hub

import (
	"encoding/json"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// Predicate selects devices for Broadcast. It receives a copy of the record
// and must not block.
type Predicate func(d *device.Device) bool

// Filter is the declarative form of a Predicate used by the HTTP API and
// the MQTT bridge. Empty fields match everything; Capabilities must all be
// present on the device.
type Filter struct {
	Type         device.Type   `json:"type,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Status       device.Status `json:"status,omitempty"`
}

// Predicate returns the filter as a Predicate, or nil when f is empty.
func (f *Filter) Predicate() Predicate {
	if f == nil || (f.Type == "" && len(f.Capabilities) == 0 && f.Status == "") {
		return nil
	}
	return func(d *device.Device) bool {
		if f.Type != "" && d.Type != f.Type {
			return false
		}
		if f.Status != "" && d.Status != f.Status {
			return false
		}
		return d.HasAllCapabilities(f.Capabilities)
	}
}

// SendTo delivers msg to the device bound to id.
//
// It returns false when nothing is bound, the transport is closed, or the
// send fails. It never panics or returns an error; failures are logged.
func (h *Hub) SendTo(id string, msg Message) bool {
	frame, err := msg.Encode()
	if err != nil {
		h.logger.Error("encoding message", "type", msg.Type, "device_id", id, "error", err)
		return false
	}
	return h.sendFrame(id, msg.Type, frame)
}

// sendFrame resolves the binding under the table lock and writes outside it.
func (h *Hub) sendFrame(id string, t MessageType, frame []byte) bool {
	tr, ok := h.conns.resolve(id)
	delivered := false
	switch {
	case !ok:
		h.logger.Debug("send skipped, device not bound", "device_id", id, "type", t)
	case !tr.IsOpen():
		h.logger.Debug("send skipped, transport closed", "device_id", id, "type", t)
	default:
		if err := tr.Send(frame); err != nil {
			h.logger.Warn("send to device failed", "device_id", id, "type", t, "error", err)
		} else {
			delivered = true
		}
	}
	MessagesSent.WithLabelValues(messageLabel(t), sendResult(delivered)).Inc()
	return delivered
}

// Broadcast sends msg to every device matching pred and returns the number of
// successful deliveries. A nil pred matches every record. Records without
// a live binding are skipped, and one failed send does not stop the rest.
func (h *Hub) Broadcast(msg Message, pred Predicate) int {
	frame, err := msg.Encode()
	if err != nil {
		h.logger.Error("encoding broadcast", "type", msg.Type, "error", err)
		return 0
	}

	targets := h.registry.ListFunc(pred)
	sent := 0
	for i := range targets {
		if h.sendFrame(targets[i].ID, msg.Type, frame) {
			sent++
		}
	}
	h.logger.Debug("broadcast sent", "type", msg.Type, "matched", len(targets), "delivered", sent)
	return sent
}

// TransitDisplays matches connected devices that render transit data.
func TransitDisplays(d *device.Device) bool {
	return d.Status == device.StatusConnected && d.HasCapability(device.CapabilityTransitDisplay)
}

// BroadcastTransitUpdate pushes a transit_update with data to every connected
// transit display.
func (h *Hub) BroadcastTransitUpdate(data json.RawMessage) int {
	msg := Message{
		Type:      TypeTransitUpdate,
		Timestamp: Now(),
		Data:      data,
	}
	return h.Broadcast(msg, TransitDisplays)
}
