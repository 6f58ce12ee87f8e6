// Package server exposes agents, their capabilities and the chat stream
// over HTTP.
//
// Information Hiding:
// - Route layout and middleware order hidden behind Handler
// - Ownership checks hidden in per-resource loaders
// - Run lifetime (toolset, runner, pump) hidden in the chat handler

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/richinex/agentdock/agent"
	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/llm"
	"github.com/richinex/agentdock/metrics"
	"github.com/richinex/agentdock/retrieval"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/stream"
	"github.com/richinex/agentdock/tools"
)

// Documents is the retrieval surface the server needs.
type Documents interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (storage.Document, error)
	Delete(ctx context.Context, agentID, documentID string) error
	tools.Searcher
}

// Config holds server settings.
type Config struct {
	Addr           string
	JWTSecret      string
	RequestTimeout time.Duration
	MaxUploadBytes int64

	Agent        agent.Config
	ToolTimeout  time.Duration
	StreamBuffer int
	TopK         int
}

// Server serves the HTTP API.
type Server struct {
	config     Config
	store      storage.Store
	documents  Documents
	provider   llm.Provider
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHTTPClient sets the client used to fetch OpenAPI documents and call
// OpenAPI tools.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// New creates a server.
func New(config Config, store storage.Store, documents Documents, provider llm.Provider, opts ...Option) *Server {
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = stream.DefaultBuffer
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	s := &Server{
		config:     config,
		store:      store,
		documents:  documents,
		provider:   provider,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("server")
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: request id -> recovery -> metrics -> logging
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// The chat stream outlives the request timeout.
			r.Post("/agents/{agentID}/chat", s.handleChat)

			r.Group(func(r chi.Router) {
				if s.config.RequestTimeout > 0 {
					r.Use(middleware.Timeout(s.config.RequestTimeout))
				}
				r.Get("/agents", s.handleListAgents)
				r.Post("/agents", s.handleCreateAgent)
				r.Route("/agents/{agentID}", func(r chi.Router) {
					r.Get("/", s.handleGetAgent)
					r.Put("/", s.handleUpdateAgent)
					r.Patch("/", s.handleUpdateAgent)
					r.Delete("/", s.handleDeleteAgent)

					r.Get("/documents", s.handleListDocuments)
					r.Post("/documents", s.handleUploadDocument)
					r.Delete("/documents/{documentID}", s.handleDeleteDocument)

					r.Get("/openapis", s.handleListOpenAPIs)
					r.Post("/openapis", s.handleCreateOpenAPI)
					r.Get("/openapis/{openapiID}", s.handleGetOpenAPI)
					r.Put("/openapis/{openapiID}", s.handleUpdateOpenAPI)
					r.Patch("/openapis/{openapiID}", s.handleUpdateOpenAPI)
					r.Delete("/openapis/{openapiID}", s.handleDeleteOpenAPI)

					r.Get("/mcps", s.handleListMCPs)
					r.Post("/mcps", s.handleCreateMCP)
					r.Get("/mcps/{mcpID}", s.handleGetMCP)
					r.Put("/mcps/{mcpID}", s.handleUpdateMCP)
					r.Patch("/mcps/{mcpID}", s.handleUpdateMCP)
					r.Delete("/mcps/{mcpID}", s.handleDeleteMCP)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errNotFound)
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
