// Command gateway starts the RAG gateway service.
//
// The gateway fronts one on-box inference backend (vLLM, OpenAI-compatible)
// and answers questions over an indexed document corpus. Each chat request
// is admitted against a fixed concurrency ceiling, then embedded, matched
// against the vector index, assembled into a budgeted prompt, generated, and
// returned with citations. Ingestion, document listing, health, and
// Prometheus metrics round out the HTTP surface.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeai/rag-gateway/internal/admission"
	"github.com/edgeai/rag-gateway/internal/chunker"
	"github.com/edgeai/rag-gateway/internal/citation"
	"github.com/edgeai/rag-gateway/internal/embedding"
	gwhandler "github.com/edgeai/rag-gateway/internal/gateway/handler"
	"github.com/edgeai/rag-gateway/internal/gateway/router"
	"github.com/edgeai/rag-gateway/internal/index"
	"github.com/edgeai/rag-gateway/internal/inference"
	"github.com/edgeai/rag-gateway/internal/orchestrator"
	"github.com/edgeai/rag-gateway/internal/prompt"
	"github.com/edgeai/rag-gateway/internal/registry"
	"github.com/edgeai/rag-gateway/pkg/config"
	"github.com/edgeai/rag-gateway/pkg/health"
	"github.com/edgeai/rag-gateway/pkg/kafka"
	"github.com/edgeai/rag-gateway/pkg/logger"
	"github.com/edgeai/rag-gateway/pkg/metrics"
	"github.com/edgeai/rag-gateway/pkg/postgres"
	pkgredis "github.com/edgeai/rag-gateway/pkg/redis"
)

// main wires the full pipeline: admission controller, embedding client (with
// optional Redis cache), Qdrant index, inference client, prompt and citation
// builders, document registry, and the HTTP server. Graceful shutdown is
// triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting rag gateway",
		"port", cfg.Server.Port,
		"model", cfg.Inference.Model,
		"inference_url", cfg.Inference.URL,
		"index_url", cfg.Index.URL,
	)

	m := metrics.New()

	// Backend clients.
	generator := inference.NewClient(cfg.Inference)
	embedClient := embedding.NewClient(cfg.Embedding)
	idx := index.NewClient(cfg.Index)

	var embedder orchestrator.Embedder = embedClient
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		embedder = embedding.NewCachedEmbedder(embedClient, redisClient, cfg.Embedding.Model, cfg.Embedding.CacheTTL, m)
		slog.Info("embedding cache enabled", "ttl", cfg.Embedding.CacheTTL)
	}

	// Document registry: PostgreSQL when configured, in-memory otherwise.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	var store orchestrator.DocumentStore = registry.NewMemoryStore()
	var db *postgres.Client
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store, err = registry.NewPostgresStore(startCtx, db)
		if err != nil {
			slog.Error("failed to prepare document registry", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to postgres")
	}

	if err := idx.EnsureCollection(startCtx, cfg.Embedding.Dimension); err != nil {
		slog.Error("failed to prepare vector collection", "error", err)
		os.Exit(1)
	}

	admit := admission.New(admission.Config{
		MaxConcurrent:  cfg.Admission.MaxConcurrent,
		QueueDepth:     cfg.Admission.QueueDepth,
		AcquireTimeout: cfg.Admission.AcquireTimeout,
		DebugChecks:    cfg.Admission.DebugChecks,
	}, m)

	orch := orchestrator.New(
		admit,
		embedder,
		idx,
		generator,
		prompt.NewBuilder(cfg.Prompt),
		citation.NewBuilder(cfg.Prompt.ExcerptMaxLen),
		store,
		chunker.New(cfg.Ingest),
		*cfg,
		m,
	)

	// Health checks.
	checker := health.NewChecker()
	checker.Register("inference", pingCheck(generator.Healthy))
	checker.Register("embedding", pingCheck(embedClient.Healthy))
	checker.Register("index", pingCheck(idx.Healthy))
	if redisClient != nil {
		checker.Register("redis", pingCheck(redisClient.Ping))
	}
	if db != nil {
		checker.Register("postgres", pingCheck(db.DB.PingContext))
	}

	// Optional async ingest queue.
	var producer gwhandler.IngestPublisher
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.IngestTopic)
		defer p.Close()
		producer = p
		slog.Info("async ingestion enabled", "topic", cfg.Kafka.IngestTopic)
	}

	h := gwhandler.New(orch, producer, checker, *cfg)
	chain := router.New(h, checker, m, *cfg)

	if cfg.Metrics.Enabled {
		stopMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopMetrics(shutdownCtx)
		}()
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     chain,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: streamed chats outlive any fixed value; the
		// admission controller and stage deadlines bound request lifetime.
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("rag gateway listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("rag gateway stopped")
}

// pingCheck adapts an error-returning ping into a health.Check.
func pingCheck(ping func(ctx context.Context) error) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if err := ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}
