package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tagbox-core/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.withAccessLog)
	r.Use(s.withRecovery)
	r.Use(s.withCORS)
	r.Use(s.withBodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/state", s.handleState)

		r.Route("/mappings", func(r chi.Router) {
			r.Get("/", s.handleListMappings)
			r.Post("/", s.handleRegister)
			r.Delete("/{tagID}", s.handleUnregister)
		})

		r.Route("/library", func(r chi.Router) {
			r.Get("/", s.handleListLibrary)
			r.Post("/", s.handleUpload)
			r.Delete("/{filename}", s.handleDeleteTrack)
		})

		r.Post("/playback/stop", s.handleStopPlayback)
		r.Get("/volume", s.handleGetVolume)
		r.Put("/volume", s.handleSetVolume)

		r.Get("/audit", s.handleListAuditLogs)
		r.Get("/ws", s.handleWebSocket)
	})

	r.Get("/media/{filename}", s.handleServeMedia)

	// Control page (embedded), with index.html fallback for unknown paths.
	r.Handle("/*", panel.Handler(s.panelDir))

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
	})
}
