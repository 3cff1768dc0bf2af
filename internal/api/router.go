package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Control actions are mounted twice: bare paths answer in HTML mode and the
// same paths under /api answer with the JSON envelope. Unknown paths and
// wrong methods get 404.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	// HTML mode
	r.Get("/", s.handleIndex)
	s.mountControl(r, false)

	// JSON mode
	r.Route("/api", func(r chi.Router) {
		r.NotFound(notFound)
		r.MethodNotAllowed(notFound)

		s.mountControl(r, true)

		if s.history != nil {
			r.Post("/state/history", s.control(true, s.stateHistory))
		}
		if s.events != nil {
			r.Post("/event/log", s.control(true, s.eventLog))
		}

		r.Post("/auth/token", s.control(true, s.streamToken))
		r.Get("/stream", s.handleStream)

		r.Get("/metrics", s.handleMetrics)
		r.Get("/health", s.handleHealth)
	})

	return otelhttp.NewHandler(r, "homecore.api")
}

// mountControl registers the state and event actions on r.
func (s *Server) mountControl(r chi.Router, jsonMode bool) {
	r.Post("/state/categories", s.control(jsonMode, s.stateCategories))
	r.Post("/state/get", s.control(jsonMode, s.stateGet))
	r.Post("/state/change", s.control(jsonMode, s.stateChange))
	r.Post("/event/fire", s.control(jsonMode, s.eventFire))
}

// handleHealth reports liveness. No authentication is required.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         StatusOK,
		"version":        s.version,
		"uptime_seconds": int64(s.now().Sub(s.startTime).Seconds()),
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			body["status"] = StatusError
			body["message"] = "database unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	writeJSON(w, http.StatusOK, body)
}
