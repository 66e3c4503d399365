// Package api provides the HTTP REST API.
//
// Endpoints:
//
//	GET  /health                      → liveness probe
//	GET  /ready                       → readiness probe (database ping)
//	GET  /api/search                  → semantic search with optional AI answer
//	GET  /api/search/answer-stream    → streaming answer over SSE
//	GET  /api/search/filters          → available filter values
//	GET  /api/search/suggestions      → title suggestions for a query prefix
//	GET  /api/collections/{id}/documents → documents in a collection
//	GET  /api/graph                   → knowledge graph payload
//	POST /api/documents/import        → import a URL as a background job
//	POST /api/documents/{id}/reindex  → force re-index a document
//	GET  /api/jobs/{id}               → poll a background job
//	POST /api/code/chunks             → index extracted code chunks
//	GET  /api/code/repositories/{id}  → repository details
//
// File structure mirrors the endpoint groups: search.go, graph.go,
// imports.go, code.go, health.go, plus middleware.go and response.go.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tessera-kb/tessera/internal/app"
	"github.com/tessera-kb/tessera/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout = 30 * time.Second

	// WriteTimeout must cover streaming answers, which can run for minutes.
	WriteTimeout = 10 * time.Minute

	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	search  *SearchHandler
	graph   *GraphHandler
	imports *ImportHandler
	code    *CodeHandler
}

// NewServer creates a server with all routes registered.
func NewServer(a *app.App) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  a.Logger,
		health:  NewHealthHandler(a.DBPool, a.Logger),
		search:  NewSearchHandler(a.Retrieval, a.Composer, a.Store, a.Logger),
		graph:   NewGraphHandler(a.GraphBuilder, a.Logger),
		imports: NewImportHandler(a.Fetcher, a.Store, a.Indexer, a.Jobs, a.JobRecorder, a.Logger),
		code:    NewCodeHandler(a.Store, a.Indexer, a.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	s.graph.RegisterRoutes(mux)
	s.imports.RegisterRoutes(mux)
	s.code.RegisterRoutes(mux)

	return s
}

// Handler returns the handler with middleware applied.
// Order: recovery → logging → routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until the context is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
