// Package server provides the HTTP API for Wayfarer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/wayfarer/internal/answer"
	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/grounding"
	"github.com/hyperjump/wayfarer/internal/keyword"
	"github.com/hyperjump/wayfarer/internal/registry"
	"github.com/hyperjump/wayfarer/internal/retrieval"
	"github.com/hyperjump/wayfarer/internal/storage"
	"go.uber.org/zap"
)

// Deps are the components the server exposes. Catalog and Storage may be nil; their
// endpoints then answer 501.
type Deps struct {
	Registry  *registry.Registry
	Retriever *retrieval.Engine
	Answerer  *answer.Orchestrator
	Validator *grounding.Validator
	Catalog   *keyword.Catalog
	Storage   storage.Storage
}

// Server is the HTTP server for the Wayfarer API.
type Server struct {
	registry  *registry.Registry
	retriever *retrieval.Engine
	answerer  *answer.Orchestrator
	validator *grounding.Validator
	catalog   *keyword.Catalog
	storage   storage.Storage
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = grounding.NewValidator()
	}
	return &Server{
		registry:  deps.Registry,
		retriever: deps.Retriever,
		answerer:  deps.Answerer,
		validator: validator,
		catalog:   deps.Catalog,
		storage:   deps.Storage,
		config:    cfg,
		logger:    logger,
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/validate", s.handleValidate)
		r.Get("/layers", s.handleLayers)
		r.Post("/layers/{layer}/reload", s.handleReloadLayer)
		r.Get("/layers/{layer}/chunks", s.handleLayerChunks)
		r.Get("/queries", s.handleQueries)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
