// Package inference is the boundary adapter for the generation backend
// (vLLM or any OpenAI-compatible /v1/chat/completions server). It enforces a
// per-call timeout and aborts the in-flight call on cancellation, but never
// retries: retry policy belongs to the orchestrator, keeping this adapter a
// thin, replaceable boundary.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/logger"
)

// Result is one completed generation with the backend's token accounting.
// Reported is false when the backend returned no usage block.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Reported         bool
}

// Fragment is one element of a streamed generation. The stream is lazy,
// finite, and non-restartable: fragments arrive until a terminal element
// with Done set, carrying the final usage when the backend reported one.
type Fragment struct {
	Text  string
	Done  bool
	Usage *Result
	Err   error
}

// Client talks to one OpenAI-compatible chat-completions backend.
type Client struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	httpc       *http.Client
	log         *slog.Logger
}

// NewClient creates a Client from the inference configuration.
func NewClient(cfg config.InferenceConfig) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		// No Transport-level timeout: the per-call context carries the
		// deadline so streaming responses are not cut off mid-body.
		httpc: &http.Client{},
		log:   logger.WithComponent("inference"),
	}
}

type chatCompletionRequest struct {
	Model         string              `json:"model"`
	Messages      []model.ChatMessage `json:"messages"`
	MaxTokens     int                 `json:"max_tokens"`
	Temperature   float64             `json:"temperature"`
	Stream        bool                `json:"stream"`
	StreamOptions *streamOptions      `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends a blocking completion request. maxTokens <= 0 uses the
// configured default.
func (c *Client) Generate(ctx context.Context, messages []model.ChatMessage, maxTokens int) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.effectiveMaxTokens(maxTokens),
		Temperature: c.temperature,
		Stream:      false,
	})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, c.statusError(resp)
	}

	var body chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("%w: decoding completion: %v", apperrors.ErrInferenceTransport, err)
	}
	if len(body.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: backend returned no choices", apperrors.ErrInferenceTransport)
	}

	result := Result{Text: body.Choices[0].Message.Content}
	if body.Usage != nil {
		result.PromptTokens = body.Usage.PromptTokens
		result.CompletionTokens = body.Usage.CompletionTokens
		result.TotalTokens = body.Usage.TotalTokens
		result.Reported = true
	}
	return result, nil
}

// GenerateStream sends a streaming completion request and returns a channel
// of fragments. The channel is closed after the terminal Done fragment.
// Cancelling ctx aborts the in-flight backend call promptly; the consumer
// then receives a terminal fragment carrying the cancellation error.
func (c *Client) GenerateStream(ctx context.Context, messages []model.ChatMessage, maxTokens int) (<-chan Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	resp, err := c.post(ctx, chatCompletionRequest{
		Model:         c.model,
		Messages:      messages,
		MaxTokens:     c.effectiveMaxTokens(maxTokens),
		Temperature:   c.temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := c.statusError(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	ch := make(chan Fragment, 64)
	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		var usage *Result
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				ch <- Fragment{Done: true, Usage: usage}
				return
			}
			var event chatCompletionResponse
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if event.Usage != nil {
				usage = &Result{
					PromptTokens:     event.Usage.PromptTokens,
					CompletionTokens: event.Usage.CompletionTokens,
					TotalTokens:      event.Usage.TotalTokens,
					Reported:         true,
				}
			}
			if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
				ch <- Fragment{Text: event.Choices[0].Delta.Content}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- Fragment{Done: true, Usage: usage, Err: c.mapTransportError(ctx, err)}
			return
		}
		// Stream ended without [DONE]; still terminal, just unexpected.
		ch <- Fragment{Done: true, Usage: usage}
	}()
	return ch, nil
}

// Healthy probes the backend's model listing, for readiness checks.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference backend returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 && requested <= c.maxTokens {
		return requested
	}
	return c.maxTokens
}

func (c *Client) post(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, c.mapTransportError(ctx, err)
	}
	return resp, nil
}

// mapTransportError classifies a failed HTTP round trip. A deadline from the
// per-call timeout is an inference timeout; a caller cancellation propagates
// as context.Canceled so the orchestrator does not retry a request whose
// client already disconnected; everything else is a transport failure.
func (c *Client) mapTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", apperrors.ErrInferenceTimeout, c.timeout)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return fmt.Errorf("%w: %v", apperrors.ErrInferenceTransport, err)
}

// statusError maps a non-200 backend response. 4xx responses are the
// gateway's own fault (bad payload) and are not retried as transport errors.
func (c *Client) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	c.log.Error("inference backend error", "status", resp.StatusCode, "body", string(detail))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: backend status %d", apperrors.ErrInferenceTransport, resp.StatusCode)
	}
	return apperrors.Newf(apperrors.ErrInternal, http.StatusBadGateway,
		"backend rejected completion request with status %d", resp.StatusCode)
}
