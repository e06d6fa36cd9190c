package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// MessageType is the discriminator of the wire envelope.
type MessageType string

// Message types exchanged with devices.
const (
	TypeDeviceRegistration    MessageType = "device_registration"    // in
	TypeRegistrationSuccess   MessageType = "registration_success"   // out
	TypeHeartbeat             MessageType = "heartbeat"              // in
	TypeHeartbeatAck          MessageType = "heartbeat_ack"          // out
	TypeHeartbeatTimeout      MessageType = "heartbeat_timeout"      // out
	TypeDeviceStatus          MessageType = "device_status"          // in
	TypeConfigUpdate          MessageType = "config_update"          // out
	TypeTransitDataRequest    MessageType = "transit_data_request"   // in
	TypeTransitDataResponse   MessageType = "transit_data_response"  // out
	TypeConnectionEstablished MessageType = "connection_established" // out
	TypeError                 MessageType = "error"                  // out
	TypeTransitUpdate         MessageType = "transit_update"         // out
)

// TimestampFormat is ISO-8601 UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current time in TimestampFormat.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}

// Message is the JSON envelope carried in every frame.
//
// Data is kept raw and decoded on demand with Decode, so a frame can be
// dispatched on Type without knowing its payload shape. Timestamp is kept as
// received; devices with bad clocks are not rejected for it.
type Message struct {
	Type      MessageType     `json:"type"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage builds an outbound message stamped with the current time.
// A nil payload is sent as an empty object.
func NewMessage(t MessageType, deviceID string, payload any) (Message, error) {
	data := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		data = b
	}
	return Message{
		Type:      t,
		DeviceID:  deviceID,
		Timestamp: Now(),
		Data:      data,
	}, nil
}

// ParseMessage decodes a frame. The frame must be a JSON object with a
// non-empty string type.
func ParseMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return msg, nil
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 || bytes.Equal(bytes.TrimSpace(m.Data), []byte("null")) {
		return ErrMissingData
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// Encode returns the wire form of m.
func (m Message) Encode() ([]byte, error) {
	if len(m.Data) == 0 {
		m.Data = json.RawMessage("{}")
	}
	return json.Marshal(m)
}

// Outbound payloads.

// RegistrationSuccess is the data of registration_success.
type RegistrationSuccess struct {
	Device *device.Device `json:"device"`
}

// HeartbeatTimeout is the data of heartbeat_timeout.
type HeartbeatTimeout struct {
	Timeout bool `json:"timeout"`
}

// ConfigUpdate is the data of config_update. Config is the full merged config.
type ConfigUpdate struct {
	Config device.Config `json:"config"`
}

// ConnectionEstablished is the data of connection_established.
type ConnectionEstablished struct {
	Message    string `json:"message"`
	ServerTime string `json:"serverTime"`
}

// ErrorPayload is the data of error.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Notice is a free-text payload, used when transit data is unavailable.
type Notice struct {
	Message string `json:"message"`
}
