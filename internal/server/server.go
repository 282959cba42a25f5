// Package server provides the HTTP API for kura.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/store"
	"github.com/hyperjump/kura/pkg/utils"
)

// EntityStore is the read side of the store the API serves from.
type EntityStore interface {
	Get(t models.EntityType, id string) (models.EmbeddingRecord, error)
	Vector(t models.EntityType, id string) ([]float32, error)
	List(ctx context.Context, t models.EntityType, offset, limit int) ([]models.EmbeddingRecord, error)
	Search(ctx context.Context, vec []float32, k int) ([]models.SearchHit, error)
	Query(ctx context.Context, text string, k int) ([]models.SearchHit, error)
	KeywordSearch(ctx context.Context, text string, k int, opts *keyword.SearchOptions) ([]models.SearchHit, error)
	Stats() store.Stats
}

// EntitySink applies entity changes. Writes go through it so every source
// logs the same outcomes.
type EntitySink interface {
	EntitySaved(ctx context.Context, e models.Entity, created bool) error
	EntityCreated(ctx context.Context, e models.Entity) error
	EntityDeleted(ctx context.Context, t models.EntityType, id string) error
}

// Server is the HTTP server for the kura API.
type Server struct {
	store   EntityStore
	sink    EntitySink
	config  *config.Config
	metrics http.Handler
	version string
	logger  *zap.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithVersion sets the version reported by /api/v1/status.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server with the given dependencies.
func NewServer(st EntityStore, sink EntitySink, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		store:  st,
		sink:   sink,
		config: cfg,
		logger: utils.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/entities", s.handleListEntities)
		r.Post("/entities/{type}", s.handleCreateEntity)
		r.Get("/entities/{type}/{id}", s.handleGetEntity)
		r.Put("/entities/{type}/{id}", s.handlePutEntity)
		r.Delete("/entities/{type}/{id}", s.handleDeleteEntity)
		r.Post("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
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
