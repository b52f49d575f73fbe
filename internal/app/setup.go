package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/koopa0/ragpipe/db"
	"github.com/koopa0/ragpipe/internal/config"
	"github.com/koopa0/ragpipe/internal/database"
	"github.com/koopa0/ragpipe/internal/embedding"
	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/observability"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/retrieve"
	"github.com/koopa0/ragpipe/internal/token"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideTracing(ctx, cfg, logger)

	store, storeCleanup, err := provideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.storeCleanup = storeCleanup
	a.Store = store

	embedBackend, genBackend, err := provideBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := embedding.NewGateway(embedding.Config{
		Backend: embedBackend,
		Logger:  logger,
		Limiter: provideLimiter(cfg),
	})
	if err != nil {
		return nil, err
	}

	chunker, err := ingest.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	ingestor, err := ingest.New(ingest.Config{
		Chunker:  chunker,
		Embedder: gateway,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	// The retrieval context budget and the prompt budget share one estimator.
	estimator := token.Heuristic{CharsPerToken: cfg.CharsPerToken}

	retriever, err := retrieve.New(retrieve.Config{
		Embedder:       gateway,
		Store:          store,
		Estimator:      estimator,
		Logger:         logger,
		TopK:           cfg.RetrievalTopK,
		ScoreThreshold: cfg.ScoreThreshold,
		MaxSources:     cfg.MaxSources,
		TokenBudget:    cfg.ContextTokenBudget,
	})
	if err != nil {
		return nil, err
	}

	composer := prompt.New(prompt.Config{
		SystemPrompt:       cfg.SystemPrompt,
		MaxPromptTokens:    cfg.MaxPromptTokens,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		Estimator:          estimator,
	})

	p, err := pipeline.New(pipeline.Config{
		Ingestor:        ingestor,
		Retriever:       retriever,
		Composer:        composer,
		Generator:       genBackend,
		Store:           store,
		Logger:          logger,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
	})
	if err != nil {
		return nil, err
	}
	a.Pipeline = p

	logger.Info("application ready",
		"provider", cfg.Provider,
		"store", cfg.StoreBackend,
		"embedder", cfg.EmbedderModel,
		"model", cfg.GenerationModel,
	)

	return a, nil
}

// provideTracing sets up OTLP trace export when enabled. Tracing never
// fails the application: on exporter errors spans stay no-ops.
func provideTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		AgentHost:   cfg.Tracing.AgentHost,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		logger.Warn("setting up tracing, continuing without export", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideStore opens the configured vector store backend and runs its
// migrations. The returned cleanup releases the underlying connection.
func provideStore(ctx context.Context, cfg *config.Config, logger log.Logger) (vectorstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePgvector:
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}

		pool, err := database.OpenPool(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return nil, nil, err
		}

		store, err := vectorstore.NewPostgres(pool, cfg.EmbedderDim, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case config.StoreQdrant:
		store, err := vectorstore.NewQdrant(ctx, vectorstore.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbedderDim,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}

		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing qdrant client", "error", err)
			}
		}
		return store, cleanup, nil

	case config.StoreSQLite:
		sqlDB, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}

		store, err := vectorstore.NewSQLite(sqlDB, cfg.EmbedderDim, logger)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}

		cleanup := func() {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("closing sqlite database", "error", err)
			}
		}
		return store, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreBackend, cfg.StoreBackend)
	}
}

// provideLimiter builds the client-side embedding rate limiter, nil
// when unlimited.
func provideLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.EmbedRateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)
}

// provideBackends creates the embedding and generation backends,
// sharing one API client per provider.
func provideBackends(ctx context.Context, cfg *config.Config) (embedding.Backend, generate.Backend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		return embedding.NewOpenAIBackend(key, cfg.EmbedderModel, cfg.EmbedderDim),
			generate.NewOpenAI(key, cfg.GenerationModel),
			nil

	default: // gemini
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return embedding.NewGeminiBackendWithClient(client, cfg.EmbedderModel, cfg.EmbedderDim),
			generate.NewGeminiWithClient(client, cfg.GenerationModel),
			nil
	}
}
