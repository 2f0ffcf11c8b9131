package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check on GET /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Terminal boundary. Never authenticated.
	r.HandleFunc("/iclock/*", s.handleDeviceRequest)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Use(s.bodySizeLimitMiddleware)

		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{sn}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/commands", s.handleIssueCommand)
					r.Delete("/commands/current", s.handleCancelCommand)
					r.Post("/clock", s.handleSyncClock)
					r.Post("/users", s.handlePushUsers)
					r.Get("/tables/{table}", s.handlePullTable)
					r.Get("/options", s.handlePullOptions)
				})
			})

			r.Get("/events", s.handleListEvents)
		})

		// Ticket auth, validated in the handler.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports server status and each registered component check.
// Any failing check answers 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	components := make(map[string]string, len(s.checks))
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"devices":        s.devices.Count(),
		"ws_clients":     s.hub.ClientCount(),
		"ws_dropped":     s.hub.Dropped(),
		"components":     components,
	})
}
