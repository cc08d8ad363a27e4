package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Streaming response
	r.Post("/execute", s.execute)

	r.Route("/session", func(r chi.Router) {
		r.Post("/sweep", s.sweepSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.endSession)
			r.Post("/abort", s.abortSession)
		})
	})

	// Audit events (SSE)
	r.Get("/event", s.events)
}
