package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/busnephew-hub/internal/infrastructure/config"
)

const defaultSendBuffer = 256

// WebSocketConn adapts a gorilla connection to Conn.
//
// Outbound frames go through a buffered queue drained by a single writer
// goroutine, so Send never blocks and frames keep their order. The writer
// also sends pings; a missing pong fails the next Receive.
type WebSocketConn struct {
	conn     *websocket.Conn
	send     chan []byte
	pingWait time.Duration
	pongWait time.Duration
	remote   string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWebSocketConn wraps an upgraded connection and starts its writer.
func NewWebSocketConn(conn *websocket.Conn, cfg config.WebSocketConfig) *WebSocketConn {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}
	c := &WebSocketConn{
		conn:     conn,
		send:     make(chan []byte, buf),
		pingWait: time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
		remote:   conn.RemoteAddr().String(),
		done:     make(chan struct{}),
	}

	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.writePump()
	return c
}

func (c *WebSocketConn) extendReadDeadline() {
	if c.pingWait <= 0 {
		return
	}
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(c.pingWait + c.pongWait))
}

// Receive returns the next text or binary frame. Any inbound frame keeps the
// connection alive.
func (c *WebSocketConn) Receive() ([]byte, error) {
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.extendReadDeadline()
	return frame, nil
}

// Send queues frame for the writer. It fails with ErrTransportClosed after
// Close and with ErrSendBufferFull when the device is not keeping up.
func (c *WebSocketConn) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrTransportClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// IsOpen reports whether frames can still be queued.
func (c *WebSocketConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close stops the writer, which sends a close frame and closes the socket.
// Blocked Receive calls return an error. Close is idempotent.
func (c *WebSocketConn) Close() error {
	c.markClosed()
	return nil
}

// Done is closed once the underlying socket has been closed.
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr returns the peer address.
func (c *WebSocketConn) RemoteAddr() string {
	return c.remote
}

// markClosed closes the queue once; the writer owns the socket from there.
func (c *WebSocketConn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketConn) writePump() {
	var tick <-chan time.Time
	if c.pingWait > 0 {
		ticker := time.NewTicker(c.pingWait)
		defer ticker.Stop()
		tick = ticker.C
	}
	writeWait := c.pongWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	defer func() {
		c.markClosed()
		c.conn.Close() //nolint:errcheck // unblocks the reader
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-tick:
			//nolint:errcheck // ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
