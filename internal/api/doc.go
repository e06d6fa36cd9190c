// Package api implements the operator HTTP API and the device WebSocket
// endpoint for the hub.
//
// # Audiences
//
// Devices connect to the WebSocket path (default /ws) and speak the hub
// protocol. Each connection is wrapped in hub.WebSocketConn and served by
// Hub.Serve for its whole life.
//
// Operators and the transit front end use the REST routes under /api/v1 to
// inspect the registry, push config, message one device or broadcast.
//
// # Security
//
// When a JWT secret is configured the /api/v1 routes require a bearer token
// minted by package auth, and mutating routes require the operator role.
// /health, /metrics and the WebSocket path stay open.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Responses are plain JSON. Errors use the Error shape {status, code, message}.
package api
