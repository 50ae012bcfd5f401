package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/policyassist/rag/internal/auth"
	"github.com/policyassist/rag/internal/cache"
	"github.com/policyassist/rag/internal/config"
	"github.com/policyassist/rag/internal/embedder"
	"github.com/policyassist/rag/internal/llm"
	"github.com/policyassist/rag/internal/memory"
	"github.com/policyassist/rag/internal/query"
	"github.com/policyassist/rag/internal/reranker"
	"github.com/policyassist/rag/internal/repository"
	"github.com/policyassist/rag/internal/repository/postgres"
	"github.com/policyassist/rag/internal/retrieval"
	"github.com/policyassist/rag/internal/server"
	"github.com/policyassist/rag/internal/service"
	"github.com/policyassist/rag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting policy RAG service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	tenantRepo := postgres.NewTenantRepo(db)
	documentRepo := postgres.NewDocumentRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	// Qdrant
	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	// Embedding cache
	embCache, err := newEmbeddingCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	slog.Info("initialized embedding cache", "backend", cfg.CacheBackend)

	// Ollama embedder behind the cache gateway
	ollamaEmbed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
		Timeout: cfg.EmbedTimeout,
	})
	embed := embedder.NewCachedEmbedder(ollamaEmbed, embCache, slog.Default())
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	// Ollama LLM
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
		llm.WithTimeout(cfg.GenerateTimeout),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	// Retrieval pipeline with all reranking strategies registered
	processor := query.NewProcessor(llmClient, query.WithModel(cfg.OllamaLLMModel))

	llmRerank := reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.OllamaLLMModel))
	simpleRerank := reranker.NewSimpleReranker()
	mmrRerank := reranker.NewMMRReranker(embed, reranker.WithDiversity(cfg.DefaultMMRDiversity))

	pipeline := retrieval.NewPipeline(embed, vectorStore,
		retrieval.WithProcessor(processor),
		retrieval.WithReranker(reranker.StrategyLLM, llmRerank),
		retrieval.WithReranker(reranker.StrategySimple, simpleRerank),
		retrieval.WithReranker(reranker.StrategyMMR, mmrRerank),
	)

	// Conversation memory
	convStore := memory.DefaultStore()
	defer convStore.Close()

	// Services
	tenantSvc := service.NewTenantService(tenantRepo, vectorStore, cfg, slog.Default())
	documentSvc := service.NewDocumentService(documentRepo, tenantRepo, embed, vectorStore, slog.Default())
	ragSvc := service.NewRAGService(tenantRepo, pipeline, llmClient,
		service.WithAuditRepo(auditRepo),
		service.WithMemory(convStore),
	)

	// HTTP server
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "policyragd",
	})
	authenticator := auth.NewAPIKeyAuthenticator(tenantRepo, cfg.AdminAPIKey,
		auth.WithJWTManager(jwtManager))
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Authenticator:  authenticator,
		JWT:            jwtManager,
		Tenants:        tenantSvc,
		Documents:      documentSvc,
		RAG:            ragSvc,
		Audits:         auditRepo,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// newEmbeddingCache builds the configured cache backend
func newEmbeddingCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
			TTL:      cfg.CacheTTL,
		})
	case "", "memory":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (valid: memory, redis)", cfg.CacheBackend)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.TenantRepository   = (*postgres.TenantRepo)(nil)
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ repository.AuditRepository    = (*postgres.AuditRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.CachedEmbedder)(nil)
	_ llm.LLM                       = (*llm.OllamaClient)(nil)
)
