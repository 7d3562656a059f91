package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/scanner"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	log := s.deps.Logger

	// scans always run the recognizer the server was started with
	defaults := scanner.SettingsFromConfig(s.config.Scan)
	defaults.RecognitionModel = s.deps.Embedder.Model()

	configHandler := handlers.NewConfigHandler(s.config, s.deps.Embedder.Model())
	targetsHandler := handlers.NewTargetsHandler(s.deps.Targets, s.deps.Embedder, s.deps.Source, log)
	s.scansHandler = handlers.NewScansHandler(
		s.deps.Orchestrator, s.deps.Targets, s.deps.Scans, defaults, log,
	)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/config", configHandler.Get)

		// Targets
		r.Get("/targets", targetsHandler.List)
		r.Post("/targets", targetsHandler.Create)
		r.Get("/targets/{id}", targetsHandler.Get)
		r.Delete("/targets/{id}", targetsHandler.Delete)
		r.Post("/targets/{id}/photos", targetsHandler.AddPhoto)
		r.Delete("/targets/{id}/photos/{photoId}", targetsHandler.DeletePhoto)

		// Scans
		r.Get("/scans", s.scansHandler.History)
		r.Post("/scans", s.scansHandler.Start)
		r.Get("/scans/current", s.scansHandler.Current)
		r.Get("/scans/current/results", s.scansHandler.Results)
		r.Get("/scans/current/events", s.scansHandler.Events)
		r.Delete("/scans/current", s.scansHandler.Cancel)
		r.Post("/scans/current/reset", s.scansHandler.Reset)
	})
}
