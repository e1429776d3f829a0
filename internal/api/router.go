package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and basic monitoring (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Client session
			r.With(requirePermission(auth.PermClientConnect)).Get(wsPath, s.handleWebSocket)

			// Device stream
			r.With(requirePermission(auth.PermDeviceStream)).Get("/devices/{id}/stream", s.handleDeviceStream)

			r.Route("/presence", func(r chi.Router) {
				r.Use(requirePermission(auth.PermPresenceRead))
				r.Get("/", s.handlePresenceStats)
				r.Get("/users", s.handleOnlineUsers)
				r.Get("/users/{id}", s.handleUserPresence)
				r.Get("/users/{id}/connections", s.handleUserConnections)
				r.Get("/devices", s.handleOnlineDevices)
				r.Get("/devices/{id}", s.handleDevicePresence)
				r.Get("/connections", s.handleFindConnections)
				r.Get("/connections/{id}", s.handleGetConnection)
				r.Get("/groups", s.handleListGroups)
				r.Get("/groups/{name}/connections", s.handleGroupConnections)
			})

			r.Route("/users/{id}", func(r chi.Router) {
				r.With(requirePermission(auth.PermGroupsManage)).Post("/groups", s.handleAddUserToGroups)
				r.With(requirePermission(auth.PermGroupsManage)).Delete("/groups", s.handleRemoveUserFromGroups)
				r.With(requirePermission(auth.PermNotify)).Post("/notify", s.handleNotifyUser)
			})

			r.Route("/notify", func(r chi.Router) {
				r.Use(requirePermission(auth.PermNotify))
				r.Post("/groups/{name}", s.handleNotifyGroup)
				r.Post("/entities/{kind}/{id}", s.handleNotifyEntity)
				r.Post("/connections/{id}", s.handleNotifyConnection)
			})

			r.Route("/devices/{id}/messages", func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceEnqueue))
				r.Post("/", s.handleEnqueueDeviceMessage)
				r.Delete("/waiter", s.handleStopDevice)
			})

			r.With(requirePermission(auth.PermSessionsRead)).Get("/sessions/events", s.handleListSessionEvents)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.mqtt != nil {
		status["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, status)
}
