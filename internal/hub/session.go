package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/time/rate"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// Error texts sent to devices.
const (
	errTextInvalidFormat     = "Invalid message format"
	errTextRateLimited       = "Rate limit exceeded"
	errTextAlreadyRegistered = "Connection already registered"
	noticeTransitUnavailable = "Transit data not available"
)

// session is the protocol state of one device connection. Its fields are
// touched only by the goroutine running Serve.
type session struct {
	hub      *Hub
	conn     Conn
	deviceID string
	limiter  *rate.Limiter
	logger   Logger
}

// Serve runs the device protocol on conn until Receive fails, ctx is
// cancelled or the hub closes. It greets the connection, dispatches every
// inbound frame and, on exit, marks the bound device disconnected and closes
// conn. Serve blocks; callers run it in its own goroutine.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	s := &session{
		hub:    h,
		conn:   conn,
		logger: h.logger,
	}
	if h.opts.FrameRate > 0 {
		burst := h.opts.FrameBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(h.opts.FrameRate, burst)
	}

	if !h.addSession(s) {
		conn.Close() //nolint:errcheck // hub already closed
		return
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close() //nolint:errcheck // unblocks Receive
	})
	defer func() {
		stop()
		s.cleanup()
	}()

	h.logger.Info("device connection opened", "remote_addr", conn.RemoteAddr())
	s.reply(TypeConnectionEstablished, ConnectionEstablished{
		Message:    "Connected to " + h.opts.ServiceName,
		ServerTime: Now(),
	})

	for {
		frame, err := conn.Receive()
		if err != nil {
			h.logger.Debug("device connection read ended", "remote_addr", conn.RemoteAddr(), "device_id", s.deviceID, "error", err)
			return
		}
		s.handleFrame(frame)
	}
}

// cleanup runs exactly once per session.
func (s *session) cleanup() {
	if s.deviceID != "" {
		s.hub.disconnect(s.deviceID, s.conn)
	}
	s.conn.Close() //nolint:errcheck // already closed on most paths
	s.hub.removeSession(s)
	s.logger.Info("device connection closed", "remote_addr", s.conn.RemoteAddr(), "device_id", s.deviceID)
}

// handleFrame dispatches one inbound frame. A panic in a handler is logged
// and the connection stays up.
func (s *session) handleFrame(frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic handling device frame",
				"device_id", s.deviceID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
		}
	}()

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("device frame rate limited", "device_id", s.deviceID, "remote_addr", s.conn.RemoteAddr())
		s.replyError(errTextRateLimited)
		return
	}

	msg, err := ParseMessage(frame)
	if err != nil {
		FramesReceived.WithLabelValues("invalid").Inc()
		s.logger.Warn("invalid device frame", "device_id", s.deviceID, "error", err)
		s.replyError(errTextInvalidFormat)
		return
	}
	FramesReceived.WithLabelValues(frameLabel(msg.Type)).Inc()

	switch msg.Type {
	case TypeDeviceRegistration:
		s.handleRegistration(msg)
	case TypeHeartbeat:
		if s.requireBound(msg) {
			s.handleHeartbeat()
		}
	case TypeDeviceStatus:
		if s.requireBound(msg) {
			s.handleStatus(msg)
		}
	case TypeTransitDataRequest:
		if s.requireBound(msg) {
			s.handleTransitRequest()
		}
	default:
		s.logger.Warn("unknown device message type", "type", msg.Type, "device_id", s.deviceID)
	}
}

func (s *session) requireBound(msg Message) bool {
	if s.deviceID != "" {
		return true
	}
	s.logger.Debug("ignoring frame from unregistered connection", "type", msg.Type, "remote_addr", s.conn.RemoteAddr())
	return false
}

func (s *session) handleRegistration(msg Message) {
	if s.deviceID != "" {
		s.logger.Warn("duplicate registration on connection", "device_id", s.deviceID)
		s.replyError(errTextAlreadyRegistered)
		return
	}

	var reg device.Registration
	if err := msg.Decode(&reg); err != nil {
		s.logger.Warn("undecodable registration", "remote_addr", s.conn.RemoteAddr(), "error", err)
		s.replyError(errTextInvalidFormat)
		return
	}

	dev, err := s.hub.register(s.conn, reg)
	if err != nil {
		var verr *device.ValidationError
		switch {
		case errors.As(err, &verr):
			s.logger.Warn("registration rejected", "remote_addr", s.conn.RemoteAddr(), "field", verr.Field, "reason", verr.Reason)
			s.replyError(verr.Error())
		case errors.Is(err, ErrHubClosed):
			s.logger.Debug("registration after shutdown", "remote_addr", s.conn.RemoteAddr())
		default:
			s.logger.Error("registration failed", "remote_addr", s.conn.RemoteAddr(), "error", err)
			s.replyError(err.Error())
		}
		return
	}

	s.deviceID = dev.ID
	s.logger.Info("device registered",
		"device_id", dev.ID,
		"name", dev.Name,
		"type", dev.Type,
		"capabilities", dev.Capabilities,
		"remote_addr", s.conn.RemoteAddr())
	s.replyAs(dev.ID, TypeRegistrationSuccess, RegistrationSuccess{Device: dev})
}

func (s *session) handleHeartbeat() {
	if !s.hub.heartbeat(s.deviceID) {
		s.logger.Debug("heartbeat for unknown device", "device_id", s.deviceID)
		return
	}
	s.replyAs(s.deviceID, TypeHeartbeatAck, struct{}{})
}

func (s *session) handleStatus(msg Message) {
	var status device.Config
	if err := msg.Decode(&status); err != nil {
		s.logger.Warn("invalid device status", "device_id", s.deviceID, "error", err)
		s.replyError(errTextInvalidFormat)
		return
	}
	if len(status) == 0 {
		return
	}
	s.hub.reportStatus(s.deviceID, status)
}

func (s *session) handleTransitRequest() {
	if src := s.hub.transitSource(); src != nil {
		if data, ok := src.LatestTransit(); ok {
			s.send(Message{
				Type:      TypeTransitDataResponse,
				DeviceID:  s.deviceID,
				Timestamp: Now(),
				Data:      json.RawMessage(data),
			})
			return
		}
	}
	s.replyAs(s.deviceID, TypeTransitDataResponse, Notice{Message: noticeTransitUnavailable})
}

func (s *session) replyError(text string) {
	s.replyAs(s.deviceID, TypeError, ErrorPayload{Error: text})
}

func (s *session) reply(t MessageType, payload any) {
	s.replyAs(s.deviceID, t, payload)
}

func (s *session) replyAs(deviceID string, t MessageType, payload any) {
	msg, err := NewMessage(t, deviceID, payload)
	if err != nil {
		s.logger.Error("building reply", "type", t, "error", err)
		return
	}
	s.send(msg)
}

// send writes directly to this connection; replies do not go through the
// connection table so unregistered sessions can be answered too.
func (s *session) send(msg Message) {
	frame, err := msg.Encode()
	if err != nil {
		s.logger.Error("encoding reply", "type", msg.Type, "error", err)
		return
	}
	err = s.conn.Send(frame)
	MessagesSent.WithLabelValues(messageLabel(msg.Type), sendResult(err == nil)).Inc()
	if err != nil {
		s.logger.Debug("reply not delivered", "type", msg.Type, "device_id", s.deviceID, "error", err)
	}
}
