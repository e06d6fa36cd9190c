package hub

import "errors"

// Hub errors. Check with errors.Is.
var (
	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("hub: transport closed")

	// ErrSendBufferFull is returned when a transport's outbound queue is full.
	ErrSendBufferFull = errors.New("hub: send buffer full")

	// ErrInvalidMessage is returned for frames that are not a valid envelope.
	ErrInvalidMessage = errors.New("hub: invalid message")

	// ErrMissingData is returned when decoding a message that carries no data.
	ErrMissingData = errors.New("hub: message has no data")

	// ErrHubClosed is returned for lifecycle operations after Close.
	ErrHubClosed = errors.New("hub: closed")

	// ErrAlreadyRegistered is returned when a bound session registers again.
	ErrAlreadyRegistered = errors.New("hub: connection already registered")
)
