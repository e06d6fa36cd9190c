package hub

import (
	"encoding/json"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// Transport is the outbound half of a device connection.
//
// Send must not block: it either queues the frame or fails with
// ErrTransportClosed or ErrSendBufferFull. Frames queued on one transport are
// written in order. Close is idempotent.
type Transport interface {
	Send(frame []byte) error
	IsOpen() bool
	Close() error
}

// Conn is a full device connection as seen by the protocol handler.
// Receive blocks for the next inbound frame and is called from one goroutine.
type Conn interface {
	Transport
	Receive() ([]byte, error)
	RemoteAddr() string
}

// Observer receives device lifecycle events after the hub has released its
// locks. Implementations must return quickly.
type Observer interface {
	ObserveDeviceEvent(ev device.Event)
}

// TransitSource supplies the latest transit snapshot for
// transit_data_request. ok is false when no data has been received yet.
type TransitSource interface {
	LatestTransit() (data json.RawMessage, ok bool)
}

// Logger defines the logging interface used by the hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
