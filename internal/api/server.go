package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/configstore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *configstore.Store, pipe *pipeline.Pipeline, version string) *Server {
	handler := NewHandler(repo, cache, bus, store, pipe, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no company required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (company required)
	router.Route("/", func(r chi.Router) {
		r.Use(CompanyMiddleware)

		// Scoring
		r.Post("/score", handler.Score)
		r.Post("/score/batch", handler.ScoreBatch)

		// Scored record retrieval
		r.Get("/records/{id}", handler.GetRecord)

		// Variable catalog
		r.Get("/variables", handler.ListVariables)
		r.Get("/variables/{id}", handler.GetVariable)
		r.Post("/variables", handler.CreateVariable)
		r.Post("/variables/reload", handler.ReloadVariables)

		// Weight configuration
		r.Get("/weights", handler.GetWeights)
		r.Put("/weights", handler.PutWeights)

		// Fallback score table
		r.Get("/fallbacks", handler.GetFallbacks)
		r.Put("/fallbacks", handler.PutFallbacks)

		// Partner field mappings
		r.Get("/mappings/{partnerID}", handler.GetMapping)
		r.Put("/mappings/{partnerID}", handler.PutMapping)

		// Clearance rules
		r.Get("/clearance-rules", handler.ListClearanceRules)
		r.Post("/clearance-rules", handler.CreateClearanceRule)
		r.Delete("/clearance-rules/{id}", handler.DeleteClearanceRule)
		r.Post("/clearance-rules/reload", handler.ReloadClearanceRules)

		// Operational counters
		r.Get("/stats", handler.Stats)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
