package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/busnephew-hub/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)

	// Device endpoint. Upgraded connections are not subject to the body limit.
	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.bodySizeLimitMiddleware)

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", s.handleHealth)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Get("/metrics", s.requirePermission(auth.PermDeviceRead, s.handleMetrics))

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.requirePermission(auth.PermDeviceRead, s.handleListDevices))
					r.Get("/stats", s.requirePermission(auth.PermDeviceRead, s.handleDeviceStats))

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.requirePermission(auth.PermDeviceRead, s.handleGetDevice))
						r.Put("/config", s.requirePermission(auth.PermDeviceConfigure, s.handleUpdateConfig))
						r.Post("/message", s.requirePermission(auth.PermDeviceMessage, s.handleSendMessage))
						r.Get("/events", s.requirePermission(auth.PermEventsRead, s.handleDeviceEvents))
					})
				})

				r.Post("/broadcast", s.requirePermission(auth.PermBroadcast, s.handleBroadcast))
				r.Get("/events", s.requirePermission(auth.PermEventsRead, s.handleListEvents))
			})
		})
	})

	return r
}

// handleHealth returns liveness plus registry counts.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":        "healthy",
		"timestamp":     nowTimestamp(),
		"uptimeSeconds": int64(s.uptime().Seconds()),
		"version":       s.version,
		"devices":       s.hub.Stats(),
		"connections":   s.hub.ConnectionCount(),
	}
	if s.db != nil {
		if err := s.db.HealthCheck(s.sessionContext()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
