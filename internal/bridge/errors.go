package bridge

import "errors"

// Bridge errors. Handler errors are logged by the MQTT client.
var (
	ErrInvalidCommand = errors.New("bridge: invalid command payload")
	ErrInvalidTransit = errors.New("bridge: transit payload is not valid JSON")
	ErrNotDelivered   = errors.New("bridge: device not connected")
	ErrUnknownTopic   = errors.New("bridge: topic does not name a device")
)
