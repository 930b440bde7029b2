// Package metrics defines the Prometheus collectors used across the gateway
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the gateway. A single instance
// is created in main and injected into every component that records state;
// nothing reads or writes ambient globals.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ActiveRequests          prometheus.Gauge
	AdmissionWaiting        prometheus.Gauge
	AdmissionRejectedTotal  *prometheus.CounterVec
	ChatRequestsTotal       *prometheus.CounterVec
	StageFailuresTotal      *prometheus.CounterVec
	ChatLatencySeconds      prometheus.Histogram
	TokensPerSecond         prometheus.Gauge
	PromptTokensTotal       prometheus.Counter
	CompletionTokensTotal   prometheus.Counter
	RetrievalHitsCount      prometheus.Histogram
	EmbeddingCacheHitsTotal prometheus.Counter
	EmbeddingCacheMissTotal prometheus.Counter
	ChunksIngestedTotal     prometheus.Counter
	ChunksSkippedTotal      prometheus.Counter
	IngestJobsTotal         *prometheus.CounterVec
}

// New creates and registers all gateway metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "path"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_active_requests",
				Help: "Number of chat requests currently holding an admission slot.",
			},
		),
		AdmissionWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_admission_waiting",
				Help: "Number of chat requests queued for an admission slot.",
			},
		),
		AdmissionRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_admission_rejected_total",
				Help: "Total admission rejections by reason (queue_full, timeout).",
			},
			[]string{"reason"},
		),
		ChatRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_requests_total",
				Help: "Total chat requests by model and outcome (success, error, rejected).",
			},
			[]string{"model", "outcome"},
		),
		StageFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stage_failures_total",
				Help: "Total chat request failures by orchestration stage.",
			},
			[]string{"stage"},
		),
		ChatLatencySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_request_latency_seconds",
				Help:    "End-to-end chat request latency in seconds.",
				Buckets: []float64{0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		TokensPerSecond: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_tokens_per_second",
				Help: "Completion tokens per second for the most recent request.",
			},
		),
		PromptTokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_prompt_tokens_total",
				Help: "Total prompt tokens processed.",
			},
		),
		CompletionTokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_completion_tokens_total",
				Help: "Total completion tokens generated.",
			},
		),
		RetrievalHitsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_hits_count",
				Help:    "Number of above-threshold hits per retrieval.",
				Buckets: []float64{0, 1, 2, 4, 8, 12, 16, 24, 32},
			},
		),
		EmbeddingCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "embedding_cache_hits_total",
				Help: "Total query-embedding cache hits.",
			},
		),
		EmbeddingCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "embedding_cache_misses_total",
				Help: "Total query-embedding cache misses.",
			},
		),
		ChunksIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_chunks_total",
				Help: "Total chunks embedded and upserted into the index.",
			},
		),
		ChunksSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_chunks_skipped_total",
				Help: "Total chunks skipped because their content hash was unchanged.",
			},
		),
		IngestJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total ingest jobs by outcome (success, error).",
			},
			[]string{"outcome"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.AdmissionWaiting,
		m.AdmissionRejectedTotal,
		m.ChatRequestsTotal,
		m.StageFailuresTotal,
		m.ChatLatencySeconds,
		m.TokensPerSecond,
		m.PromptTokensTotal,
		m.CompletionTokensTotal,
		m.RetrievalHitsCount,
		m.EmbeddingCacheHitsTotal,
		m.EmbeddingCacheMissTotal,
		m.ChunksIngestedTotal,
		m.ChunksSkippedTotal,
		m.IngestJobsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
