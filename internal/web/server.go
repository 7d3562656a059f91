package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/scanner"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Orchestrator *scanner.Orchestrator
	Embedder     handlers.TargetEmbedder
	Source       inference.ImageSource
	Targets      database.TargetWriter
	Scans        database.ScanWriter // optional
	Logger       *logrus.Logger
}

// Server represents the web server
type Server struct {
	config       *config.Config
	deps         Deps
	router       *chi.Mux
	httpServer   *http.Server
	scansHandler *handlers.ScansHandler
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{Logger: deps.Logger, NoColor: true}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	// WriteTimeout stays zero: SSE streams last as long as a scan
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.deps.Logger.WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown cancels a running scan, waits for it to be persisted and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Logger.Info("shutting down web server")

	s.deps.Orchestrator.Cancel()
	done := make(chan struct{})
	go func() {
		s.scansHandler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.deps.Logger.Warn("scan did not finish before shutdown deadline")
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
