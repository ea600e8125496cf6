package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blueconnect/triage/internal/cache"
	"github.com/blueconnect/triage/internal/config"
	"github.com/blueconnect/triage/internal/embedding"
	"github.com/blueconnect/triage/internal/llm"
	"github.com/blueconnect/triage/internal/loader"
	"github.com/blueconnect/triage/internal/mcp"
	"github.com/blueconnect/triage/internal/search"
	"github.com/blueconnect/triage/internal/server"
	"github.com/blueconnect/triage/internal/telemetry"
	"github.com/blueconnect/triage/internal/ticket"
	"github.com/blueconnect/triage/internal/vectorstore"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("TRIAGE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("triaged starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Search index clients: active is the system of record, historic holds
	// resolved tickets.
	activeIndex := search.New(search.Config{
		Endpoint: cfg.SearchEndpoint,
		APIKey:   cfg.SearchAPIKey,
		Index:    cfg.SearchIndexActive,
	}, logger)
	historicIndex := search.New(search.Config{
		Endpoint: cfg.SearchEndpoint,
		APIKey:   cfg.SearchAPIKey,
		Index:    cfg.SearchIndexHistoric,
	}, logger)

	// Embedding provider (optional — disabled without an API key; the cascade
	// falls back to lexical strategies).
	var embedder *embedding.OpenAIProvider
	if cfg.OpenAIAPIKey != "" {
		embedder = embedding.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		logger.Info("embeddings: enabled", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
	} else {
		logger.Info("embeddings: disabled (no OPENAI_API_KEY)")
	}

	// The active index carries its vector field under a deployment-specific
	// name; probe for it once so hybrid queries know where to attach vectors.
	var vectorField string
	if embedder != nil {
		vectorField = activeIndex.DiscoverVectorField(ctx, cfg.EmbeddingDimensions)
	}

	// Qdrant stores (optional — disabled if QDRANT_URL is empty).
	var activeStore, historicStore *vectorstore.Store
	if cfg.QdrantURL != "" {
		activeStore, err = vectorstore.New(vectorstore.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollectionActive,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = activeStore.Close() }()

		historicStore, err = vectorstore.New(vectorstore.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollectionHistoric,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = historicStore.Close() }()

		if err := activeStore.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		if err := historicStore.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("qdrant: enabled",
			"active", cfg.QdrantCollectionActive, "historic", cfg.QdrantCollectionHistoric)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// Redis result cache (optional — disabled if REDIS_URL is empty).
	var resultCache *cache.Cache
	if cfg.RedisURL != "" {
		resultCache, err = cache.New(ctx, cfg.RedisURL, "triage", cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer func() { _ = resultCache.Close() }()
		logger.Info("cache: enabled", "ttl", cfg.CacheTTL)
	} else {
		logger.Info("cache: disabled (no REDIS_URL)")
	}

	// Completion client for notification text (optional).
	var completer *llm.OpenAIClient
	if cfg.OpenAIAPIKey != "" {
		completer = llm.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.CompletionModel)
	}

	// Seed the vector collections from the search indexes. Non-fatal: the
	// cascade degrades to lexical search over whatever is missing.
	if cfg.SeedOnStart && activeStore != nil && embedder != nil {
		l := loader.New(loader.Config{
			ActiveSource:   activeIndex,
			HistoricSource: historicIndex,
			ActiveStore:    activeStore,
			HistoricStore:  historicStore,
			Embedder:       embedder,
			Logger:         logger,
		})
		if err := l.Run(ctx); err != nil {
			logger.Warn("vector seeding failed", "error", err)
		}
	}

	// Assemble the orchestrator. Interface fields are only assigned from
	// non-nil concrete values so the capability flags come out right.
	procCfg := ticket.Config{
		Index:       activeIndex,
		VectorField: vectorField,
		CacheTTL:    cfg.CacheTTL,
		Logger:      logger,
	}
	if activeStore != nil {
		procCfg.Active = activeStore
	}
	if historicStore != nil {
		procCfg.Historic = historicStore
	}
	if resultCache != nil {
		procCfg.Cache = resultCache
	}
	if embedder != nil {
		procCfg.Embedder = embedder
	}
	if completer != nil {
		procCfg.LLM = completer
	}
	processor := ticket.New(procCfg)

	mcpSrv := mcp.New(processor, logger, version)

	checks := []server.ComponentCheck{
		{Name: "search", Required: true, Check: activeIndex.Healthy},
	}
	if activeStore != nil {
		checks = append(checks, server.ComponentCheck{Name: "qdrant", Check: activeStore.Healthy})
	}
	if resultCache != nil {
		checks = append(checks, server.ComponentCheck{Name: "cache", Check: resultCache.Healthy})
	}

	srv := server.New(server.ServerConfig{
		Processor:           processor,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Checks:              checks,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("triaged shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("triaged stopped")
	return nil
}
