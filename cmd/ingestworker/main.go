// Command ingestworker consumes queued ingest jobs and indexes them.
//
// The gateway's POST /api/v1/ingest publishes jobs to Kafka when async
// ingestion is enabled; this worker consumes the topic and runs the same
// chunk-embed-index pipeline the gateway runs inline. Running it separately
// keeps bulk ingestion from competing with chat traffic for the embedding
// backend.
//
// Usage:
//
//	go run ./cmd/ingestworker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeai/rag-gateway/internal/admission"
	"github.com/edgeai/rag-gateway/internal/chunker"
	"github.com/edgeai/rag-gateway/internal/citation"
	"github.com/edgeai/rag-gateway/internal/embedding"
	"github.com/edgeai/rag-gateway/internal/index"
	"github.com/edgeai/rag-gateway/internal/inference"
	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/internal/orchestrator"
	"github.com/edgeai/rag-gateway/internal/prompt"
	"github.com/edgeai/rag-gateway/internal/registry"
	"github.com/edgeai/rag-gateway/pkg/config"
	"github.com/edgeai/rag-gateway/pkg/kafka"
	"github.com/edgeai/rag-gateway/pkg/logger"
	"github.com/edgeai/rag-gateway/pkg/metrics"
	"github.com/edgeai/rag-gateway/pkg/postgres"
)

type ingestJob struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Text string `json:"text"`
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Kafka.Enabled {
		fmt.Fprintln(os.Stderr, "kafka is disabled in config; nothing to consume")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingest worker",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.IngestTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)

	m := metrics.New()
	idx := index.NewClient(cfg.Index)
	embedder := embedding.NewClient(cfg.Embedding)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	var store orchestrator.DocumentStore = registry.NewMemoryStore()
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
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
	} else {
		slog.Warn("postgres disabled; chunk ledger is in-memory and idempotence does not survive restarts")
	}

	if err := idx.EnsureCollection(startCtx, cfg.Embedding.Dimension); err != nil {
		slog.Error("failed to prepare vector collection", "error", err)
		os.Exit(1)
	}

	// The worker never serves chat, but the orchestrator is wired whole; the
	// admission controller just sits idle.
	orch := orchestrator.New(
		admission.New(admission.Config{MaxConcurrent: 1, QueueDepth: 1}, nil),
		embedder,
		idx,
		inference.NewClient(cfg.Inference),
		prompt.NewBuilder(cfg.Prompt),
		citation.NewBuilder(cfg.Prompt.ExcerptMaxLen),
		store,
		chunker.New(cfg.Ingest),
		*cfg,
		m,
	)

	handle := func(ctx context.Context, key []byte, value []byte) error {
		job, err := kafka.DecodeJSON[ingestJob](value)
		if err != nil {
			// Malformed jobs are logged and committed; redelivery cannot fix them.
			slog.Error("dropping malformed ingest job", "key", string(key), "error", err)
			return nil
		}
		ref := model.DocumentRef{ID: job.ID, Name: job.Name, Path: job.Path}
		result, err := orch.Ingest(ctx, ref, job.Text)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", job.Name, err)
		}
		slog.Info("ingest job done",
			"document_id", result.DocumentID,
			"chunks", result.ChunkCount,
			"embedded", result.Ingested,
			"skipped", result.SkippedUnchanged,
		)
		return nil
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.IngestTopic, handle)
	defer consumer.Close()

	if cfg.Metrics.Enabled {
		stopMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopMetrics(shutdownCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("ingest worker consuming")
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingest worker stopped")
}
