package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/busnephew-hub/internal/hub"
)

// handleWebSocket upgrades a device connection and hands it to the hub.
// Devices do not authenticate; browsers are held to the CORS origin list.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	wsConn := hub.NewWebSocketConn(conn, s.wsCfg)
	go s.hub.Serve(s.sessionContext(), wsConn)
}
