package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/edgeai/rag-gateway/internal/inference"
	"github.com/edgeai/rag-gateway/internal/model"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/logger"
	"github.com/edgeai/rag-gateway/pkg/tracing"
)

// StreamEvent is one element of a streamed answer. Delta events carry answer
// text as it arrives; the terminal event carries either the full response
// (citations and usage included) or the error that ended the stream.
type StreamEvent struct {
	Delta    string
	Done     bool
	Response *model.ChatResponse
	Err      error
}

// AnswerStream runs the chat pipeline with streamed generation. All stages
// before generation run synchronously so the caller still gets a clean HTTP
// status for admission, retrieval, and prompt failures; only after generation
// has started do errors travel in-band as a terminal event. The admission
// slot is held until the stream closes. Generation is not retried on a
// stream: partial output may already have reached the client.
func (o *Orchestrator) AnswerStream(ctx context.Context, req model.ChatRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "question must not be empty")
	}

	slot, err := o.admit.Acquire(ctx)
	if err != nil {
		o.countChat("rejected")
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "chat_stream", logger.RequestIDFrom(ctx))

	fail := func(err error) (<-chan StreamEvent, error) {
		o.admit.Release(slot)
		span.End()
		o.countChat("error")
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			o.countStageFailure(stageErr.Stage)
		}
		return nil, err
	}

	hits, err := o.retrieve(ctx, req)
	if err != nil {
		return fail(err)
	}
	plan, err := o.buildPlan(ctx, req, hits)
	if err != nil {
		return fail(err)
	}
	citations, err := o.cite(ctx, plan, hits)
	if err != nil {
		return fail(err)
	}

	fragments, err := o.generator.GenerateStream(ctx, plan.Messages, req.MaxTokens)
	if err != nil {
		return fail(&StageError{Stage: StageGenerating, Err: err})
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer span.End()
		defer o.admit.Release(slot)

		start := time.Now()
		var answer strings.Builder
		var usage *inference.Result
		for frag := range fragments {
			if frag.Err != nil {
				o.countChat("error")
				o.countStageFailure(StageGenerating)
				events <- StreamEvent{Done: true, Err: &StageError{Stage: StageGenerating, Err: frag.Err}}
				return
			}
			if frag.Done {
				usage = frag.Usage
				break
			}
			answer.WriteString(frag.Text)
			events <- StreamEvent{Delta: frag.Text}
		}

		result := inference.Result{Text: answer.String()}
		if usage != nil {
			result = *usage
			result.Text = answer.String()
		}
		resp := model.ChatResponse{
			ID:        responseID(ctx),
			Answer:    answer.String(),
			Citations: citations,
			Usage:     buildUsage(plan, result, time.Since(start)),
		}
		o.countChat("success")
		o.observeChat(resp.Usage, time.Since(start))
		events <- StreamEvent{Done: true, Response: &resp}
	}()
	return events, nil
}
