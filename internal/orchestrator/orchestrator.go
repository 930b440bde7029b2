// Package orchestrator drives a chat request through its pipeline: admit,
// embed the question, retrieve matching chunks, assemble the prompt, generate
// an answer, and attach citations. Each request moves through the stages in
// order and fails atomically at whichever stage breaks first.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgeai/rag-gateway/internal/admission"
	"github.com/edgeai/rag-gateway/internal/inference"
	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/internal/prompt"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/logger"
	"github.com/edgeai/rag-gateway/pkg/metrics"
	"github.com/edgeai/rag-gateway/pkg/resilience"
	"github.com/edgeai/rag-gateway/pkg/tracing"
)

// Pipeline stages, in request order. A failed request reports the stage it
// failed in; a request is never left between stages.
const (
	StageEmbedding      = "embedding"
	StageRetrieving     = "retrieving"
	StageBuildingPrompt = "building_prompt"
	StageGenerating     = "generating"
	StageCiting         = "citing"
)

// StageError tags a pipeline failure with the stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector search backend.
type Index interface {
	Query(ctx context.Context, vector []float32, k int, documentIDs []string) ([]model.RetrievalHit, error)
	Upsert(ctx context.Context, chunks []model.Chunk) error
	Delete(ctx context.Context, ids []string) error
}

// Generator is the inference backend.
type Generator interface {
	Generate(ctx context.Context, messages []model.ChatMessage, maxTokens int) (inference.Result, error)
	GenerateStream(ctx context.Context, messages []model.ChatMessage, maxTokens int) (<-chan inference.Fragment, error)
}

// PromptBuilder assembles the generation prompt under the token budget.
type PromptBuilder interface {
	Build(question string, history []model.ChatMessage, hits []model.RetrievalHit) (model.PromptPlan, error)
}

// CitationBuilder derives citations from retrieval hits.
type CitationBuilder interface {
	Build(hits []model.RetrievalHit) []model.Citation
}

// Orchestrator owns the chat pipeline and the ingestion pipeline.
type Orchestrator struct {
	admit     *admission.Controller
	embedder  Embedder
	index     Index
	generator Generator
	prompts   PromptBuilder
	citations CitationBuilder
	store     DocumentStore
	chunker   Splitter

	cfg     config.Config
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New wires an Orchestrator. metrics may be nil in tests.
func New(
	admit *admission.Controller,
	embedder Embedder,
	index Index,
	generator Generator,
	prompts PromptBuilder,
	citations CitationBuilder,
	store DocumentStore,
	chunker Splitter,
	cfg config.Config,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		admit:     admit,
		embedder:  embedder,
		index:     index,
		generator: generator,
		prompts:   prompts,
		citations: citations,
		store:     store,
		chunker:   chunker,
		cfg:       cfg,
		metrics:   m,
		log:       logger.WithComponent("orchestrator"),
	}
}

// Answer runs one chat request through the pipeline. It acquires an admission
// slot first and releases it on every path out. On failure no partial answer
// is returned.
func (o *Orchestrator) Answer(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return model.ChatResponse{}, apperrors.New(apperrors.ErrInvalidInput, 400, "question must not be empty")
	}

	slot, err := o.admit.Acquire(ctx)
	if err != nil {
		o.countChat("rejected")
		return model.ChatResponse{}, err
	}
	defer o.admit.Release(slot)

	ctx, span := tracing.StartSpan(ctx, "chat", logger.RequestIDFrom(ctx))
	defer span.End()

	start := time.Now()
	resp, err := o.answer(ctx, req)
	if err != nil {
		o.countChat("error")
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			o.countStageFailure(stageErr.Stage)
			o.log.ErrorContext(ctx, "chat request failed",
				"stage", stageErr.Stage, "error", stageErr.Err)
		}
		return model.ChatResponse{}, err
	}

	o.countChat("success")
	o.observeChat(resp.Usage, time.Since(start))
	span.SetAttr("citations", len(resp.Citations))
	span.SetAttr("prompt_tokens", resp.Usage.PromptTokens)
	return resp, nil
}

// answer is the stage pipeline proper; admission is already held.
func (o *Orchestrator) answer(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	hits, err := o.retrieve(ctx, req)
	if err != nil {
		return model.ChatResponse{}, err
	}

	plan, err := o.buildPlan(ctx, req, hits)
	if err != nil {
		return model.ChatResponse{}, err
	}

	// Citations depend only on the planned chunks, so they are built while
	// the model generates.
	var (
		result    inference.Result
		latency   time.Duration
		citations []model.Citation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		genStart := time.Now()
		res, err := o.generate(gctx, plan, req.MaxTokens)
		latency = time.Since(genStart)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	g.Go(func() error {
		cites, err := o.cite(gctx, plan, hits)
		if err != nil {
			return err
		}
		citations = cites
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.ChatResponse{}, err
	}

	return model.ChatResponse{
		ID:        responseID(ctx),
		Answer:    result.Text,
		Citations: citations,
		Usage:     buildUsage(plan, result, latency),
	}, nil
}

// retrieve embeds the question and queries the index, dropping hits below the
// similarity floor. An empty result is not an error; it switches the prompt
// into no-context mode downstream.
func (o *Orchestrator) retrieve(ctx context.Context, req model.ChatRequest) ([]model.RetrievalHit, error) {
	var vector []float32
	err := o.stage(ctx, StageEmbedding, o.cfg.Embedding.Timeout, func(ctx context.Context) error {
		v, err := o.embedder.Embed(ctx, req.Question)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	var hits []model.RetrievalHit
	err = o.stage(ctx, StageRetrieving, o.cfg.Index.Timeout, func(ctx context.Context) error {
		found, err := o.index.Query(ctx, vector, o.cfg.Retrieval.TopK, req.DocumentIDs)
		if err != nil {
			return err
		}
		hits = filterByScore(found, o.cfg.Retrieval.MinScore)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.observeRetrieval(len(hits))
	return hits, nil
}

func (o *Orchestrator) buildPlan(ctx context.Context, req model.ChatRequest, hits []model.RetrievalHit) (model.PromptPlan, error) {
	var plan model.PromptPlan
	err := o.stage(ctx, StageBuildingPrompt, 0, func(ctx context.Context) error {
		p, err := o.prompts.Build(req.Question, req.History, hits)
		if err != nil {
			return err
		}
		plan = p
		return nil
	})
	return plan, err
}

// generate calls the inference backend with one transparent retry on
// timeouts and transport failures. Deterministic backend rejections and
// requests the client already abandoned are not retried.
func (o *Orchestrator) generate(ctx context.Context, plan model.PromptPlan, maxTokens int) (inference.Result, error) {
	var result inference.Result
	err := o.stage(ctx, StageGenerating, 0, func(ctx context.Context) error {
		return resilience.Retry(ctx, "generate", resilience.RetryConfig{
			MaxAttempts:    2,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Retryable:      transientGeneration,
		}, func() error {
			res, err := o.generator.Generate(ctx, plan.Messages, maxTokens)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	return result, err
}

// cite builds citations from the hits whose chunks actually made it into the
// prompt; retrieved-but-trimmed chunks never appear as citations.
func (o *Orchestrator) cite(ctx context.Context, plan model.PromptPlan, hits []model.RetrievalHit) ([]model.Citation, error) {
	var citations []model.Citation
	err := o.stage(ctx, StageCiting, 0, func(ctx context.Context) error {
		citations = o.citations.Build(plannedHits(plan, hits))
		if citations == nil {
			citations = []model.Citation{}
		}
		return nil
	})
	return citations, err
}

// stage runs one pipeline step under an optional timeout and wraps its error
// with the stage name. Parent cancellation passes through untagged only when
// it carries no stage of its own.
func (o *Orchestrator) stage(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	defer span.End()

	err := resilience.WithTimeout(ctx, timeout, name, fn)
	if err != nil {
		span.SetAttr("error", err.Error())
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

// buildUsage computes token accounting for one completed generation. When the
// backend reported no usage the completion count is estimated from the answer
// text and the prompt count taken from the plan.
func buildUsage(plan model.PromptPlan, result inference.Result, latency time.Duration) model.Usage {
	u := model.Usage{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
		LatencySeconds:   latency.Seconds(),
	}
	if !result.Reported {
		u.PromptTokens = plan.TotalTokens
		u.CompletionTokens = prompt.EstimateTokens(result.Text)
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		u.Estimated = true
	}
	if u.LatencySeconds > 0 {
		u.TokensPerSec = float64(u.CompletionTokens) / u.LatencySeconds
	}
	return u
}

// transientGeneration reports whether a generation failure is worth a second
// attempt. Only timeouts and transport failures qualify; a backend that
// rejected the request once will reject it again.
func transientGeneration(err error) bool {
	return errors.Is(err, apperrors.ErrInferenceTimeout) ||
		errors.Is(err, apperrors.ErrInferenceTransport)
}

// filterByScore drops hits below the floor, preserving order and rank.
func filterByScore(hits []model.RetrievalHit, minScore float64) []model.RetrievalHit {
	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// plannedHits returns the subset of hits whose chunks are in the plan.
func plannedHits(plan model.PromptPlan, hits []model.RetrievalHit) []model.RetrievalHit {
	if plan.NoContext {
		return nil
	}
	included := make(map[string]struct{}, len(plan.Chunks))
	for _, c := range plan.Chunks {
		included[c.ID] = struct{}{}
	}
	kept := make([]model.RetrievalHit, 0, len(plan.Chunks))
	for _, h := range hits {
		if _, ok := included[h.Chunk.ID]; ok {
			kept = append(kept, h)
		}
	}
	return kept
}

func responseID(ctx context.Context) string {
	if id := logger.RequestIDFrom(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func (o *Orchestrator) countChat(outcome string) {
	if o.metrics != nil {
		o.metrics.ChatRequestsTotal.WithLabelValues(o.cfg.Inference.Model, outcome).Inc()
	}
}

func (o *Orchestrator) countStageFailure(stage string) {
	if o.metrics != nil {
		o.metrics.StageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

func (o *Orchestrator) observeRetrieval(n int) {
	if o.metrics != nil {
		o.metrics.RetrievalHitsCount.Observe(float64(n))
	}
}

func (o *Orchestrator) observeChat(u model.Usage, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ChatLatencySeconds.Observe(elapsed.Seconds())
	o.metrics.TokensPerSecond.Set(u.TokensPerSec)
	o.metrics.PromptTokensTotal.Add(float64(u.PromptTokens))
	o.metrics.CompletionTokensTotal.Add(float64(u.CompletionTokens))
}
