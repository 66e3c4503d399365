package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/tessera-kb/tessera/db"
	"github.com/tessera-kb/tessera/internal/config"
	"github.com/tessera-kb/tessera/internal/embed"
	"github.com/tessera-kb/tessera/internal/graph"
	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/indexer"
	"github.com/tessera-kb/tessera/internal/ingest"
	"github.com/tessera-kb/tessera/internal/jobs"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/observability"
	"github.com/tessera-kb/tessera/internal/rag"
	"github.com/tessera-kb/tessera/internal/retrieval"
	"github.com/tessera-kb/tessera/internal/store"
)

// Setup creates and initializes the application. Returns an App with
// embedded cleanup — call Close() to release resources. On setup failure,
// everything already initialized is cleaned up before the error returns.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		// Tracing is ambient, not load-bearing.
		logger.Warn("tracing setup failed, continuing without export", "error", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	// Embedding is required even when generation runs through the CLI
	// backend, so the Gemini embedder backs every provider. A missing
	// embedder is fatal: every ingestion and search path depends on it.
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	a.Store = store.New(pool, logger)
	a.Index = index.NewPostgres(pool, logger)
	a.EmbedGen = embed.New(embedder, logger)

	a.Indexer = indexer.New(a.Index, a.EmbedGen, a.Store, logger,
		indexer.WithChunking(cfg.ChunkSize, cfg.ChunkOverlap),
		indexer.WithModel(cfg.EmbedderModel),
	)
	a.Retrieval = retrieval.New(a.Index, a.EmbedGen, logger)

	a.Composer = rag.NewComposer(provideGenerator(g, cfg, logger), logger,
		rag.WithTimeout(cfg.AnswerTimeout),
		rag.WithRateLimit(rate.NewLimiter(rate.Every(time.Second), 3)),
	)

	discoverer := graph.NewDiscoverer(a.Index, a.EmbedGen, logger, cfg.GraphMinConfidence)
	a.GraphBuilder = graph.NewBuilder(a.Store, discoverer, logger)

	a.JobRecorder = jobs.NewPGRecorder(pool)
	runner, err := jobs.NewRunner(a.JobRecorder, logger, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("creating job runner: %w", err)
	}
	a.Jobs = runner

	a.Fetcher = ingest.NewFetcher(logger)

	return a, nil
}

// provideGenkit initializes the Genkit runtime with the Google AI plugin.
// The plugin reads GEMINI_API_KEY directly from the environment.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	logger.Info("initialized Genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideGenerator selects the generation backend: a local CLI subprocess
// when configured, the hosted Genkit model otherwise. Both satisfy
// rag.Generator, so everything downstream is backend-agnostic.
func provideGenerator(g *genkit.Genkit, cfg *config.Config, logger log.Logger) rag.Generator {
	if cfg.Provider == config.ProviderCLI {
		logger.Info("using CLI generation backend", "command", cfg.CLICommand)
		return rag.NewCLIGenerator(cfg.CLICommand, cfg.CLIArgs, logger)
	}
	return rag.NewModelGenerator(g, cfg.FullModelName())
}

// provideDBPool runs migrations and creates the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
