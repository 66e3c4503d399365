// Package app provides application initialization and dependency injection.
//
// App is the container holding every long-lived service: the Genkit runtime,
// the database pool, the vector index, and the retrieval/indexing/graph
// services built on top. Services are constructed exactly once at startup
// and reused across all requests; there is no lazy initialization.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tessera-kb/tessera/internal/config"
	"github.com/tessera-kb/tessera/internal/embed"
	"github.com/tessera-kb/tessera/internal/graph"
	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/indexer"
	"github.com/tessera-kb/tessera/internal/ingest"
	"github.com/tessera-kb/tessera/internal/jobs"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/rag"
	"github.com/tessera-kb/tessera/internal/retrieval"
	"github.com/tessera-kb/tessera/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Domain services
	Store        *store.Store
	Index        *index.Postgres
	EmbedGen     *embed.Generator
	Indexer      *indexer.Indexer
	Retrieval    *retrieval.Engine
	Composer     *rag.Composer
	GraphBuilder *graph.Builder
	Jobs         *jobs.Runner
	JobRecorder  jobs.Recorder
	Fetcher      *ingest.Fetcher

	otelShutdown func(context.Context) error
}

// Close gracefully shuts down all resources: waits for in-flight background
// jobs, closes the database pool and flushes pending trace spans.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.Jobs != nil {
		a.Jobs.Wait()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
