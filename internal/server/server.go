package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/logger"
)

// Server is the orgmem HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
	logger  *slog.Logger
	mcp     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMCP mounts a Model Context Protocol handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// New creates a new Server over the given engine.
func New(e *engine.Engine, version string, opts ...Option) *Server {
	s := &Server{
		engine:  e,
		version: version,
		started: time.Now(),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.engine.Metrics.Middleware)

	r.Handle("/metrics", s.engine.Metrics.Handler())
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/memory", func(r chi.Router) {
			r.Route("/nodes/{tenant}/{team}", func(r chi.Router) {
				r.Post("/", s.handleCreate)
				r.Post("/batch", s.handleCreateMany)
				r.Get("/id/{id}", s.handleGetByID)
				r.Get("/{symbol}", s.handleGet)
				r.Patch("/{symbol}", s.handleUpdate)
				r.Delete("/{symbol}", s.handleDelete)
				r.Post("/{symbol}/boost", s.handleBoost)
				r.Get("/{symbol}/similar", s.handleSimilarToNode)
			})
			r.Post("/query/{tenant}/{team}", s.handleQuery)
			r.Post("/similar/{tenant}/{team}", s.handleSimilar)
			r.Post("/relationships/{tenant}/{team}", s.handleRelate)
			r.Get("/related/{tenant}/{team}/{symbol}", s.handleRelated)
			r.Post("/traverse/{tenant}/{team}", s.handleTraverse)
			r.Post("/context/{tenant}/{team}", s.handleContext)
			r.Post("/precedents/{tenant}/{team}", s.handlePrecedents)
			r.Get("/facility/{tenant}/{team}/{symbol}", s.handleFacility)
			r.Get("/standards/{tenant}/{team}/{equipment}", s.handleStandards)
			r.Get("/stats/{tenant}/{team}", s.handleStats)
			r.Post("/maintenance/{tenant}/{team}/consolidate", s.handleConsolidate)
			r.Post("/maintenance/{tenant}/{team}/reconcile", s.handleReconcile)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.engine.DB.Path,
	}
	if s.engine.Index != nil {
		body["embedder"] = s.engine.Index.Embedder().Model()
	}
	writeJSON(w, http.StatusOK, body)
}
