// Package embedding is the boundary adapter for the embedding backend (any
// OpenAI-compatible /v1/embeddings server). Embedding failures are treated
// as non-transient configuration errors: the client maps them to
// ErrEmbeddingFailure and nothing upstream retries them.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/logger"
)

// Client embeds text via an OpenAI-compatible endpoint.
type Client struct {
	baseURL   string
	model     string
	dimension int
	httpc     *http.Client
	log       *slog.Logger
}

// NewClient creates a Client from the embedding configuration.
func NewClient(cfg config.EmbeddingConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		httpc:     &http.Client{Timeout: timeout},
		log:       logger.WithComponent("embedding"),
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", apperrors.ErrEmbeddingFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", apperrors.ErrEmbeddingFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Error("embedding backend error", "status", resp.StatusCode, "body", string(detail))
		return nil, fmt.Errorf("%w: backend status %d", apperrors.ErrEmbeddingFailure, resp.StatusCode)
	}

	var body embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", apperrors.ErrEmbeddingFailure, err)
	}
	if len(body.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", apperrors.ErrEmbeddingFailure, len(texts), len(body.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range body.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: vector index %d out of range", apperrors.ErrEmbeddingFailure, d.Index)
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d", apperrors.ErrEmbeddingFailure, c.dimension, len(d.Embedding))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Healthy probes the backend's model listing without embedding anything.
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
		return fmt.Errorf("embedding backend returned status %d", resp.StatusCode)
	}
	return nil
}

// Dimension returns the configured vector dimensionality.
func (c *Client) Dimension() int {
	return c.dimension
}
