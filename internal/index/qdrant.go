// Package index is the boundary adapter for the Qdrant vector index,
// speaking its REST API. An unreachable or failing index maps to
// ErrIndexUnavailable, which is deliberately distinct from an empty result:
// "no matches" triggers no-context generation, "can't search" fails the
// request.
package index

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

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/logger"
)

// Client is a minimal REST client for one Qdrant collection, assuming cosine
// distance.
type Client struct {
	baseURL    string
	collection string
	httpc      *http.Client
	log        *slog.Logger
}

// NewClient creates a Client from the index configuration.
func NewClient(cfg config.IndexConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		httpc:      &http.Client{Timeout: timeout},
		log:        logger.WithComponent("index"),
	}
}

// EnsureCollection creates the collection if it does not exist. Qdrant
// answers 200 for an existing collection with the same schema, so the call
// is idempotent.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid vector dimension %d", apperrors.ErrInvalidInput, dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return c.do(ctx, http.MethodPut, c.collectionURL(""), body, nil)
}

type pointPayload struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Page         int    `json:"page"`
	Section      string `json:"section"`
	Index        int    `json:"index"`
	Text         string `json:"text"`
	ContentHash  string `json:"content_hash"`
}

// Upsert writes chunks and their vectors as points keyed by chunk id. Ids
// are derived from content hashes upstream, so re-upserting unchanged
// content is a no-op for the index.
func (c *Client) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		points[i] = map[string]any{
			"id":     chunk.ID,
			"vector": chunk.Embedding,
			"payload": pointPayload{
				DocumentID:   chunk.DocumentID,
				DocumentName: chunk.DocumentName,
				Page:         chunk.Page,
				Section:      chunk.Section,
				Index:        chunk.Index,
				Text:         chunk.Text,
				ContentHash:  chunk.ContentHash,
			},
		}
	}
	return c.do(ctx, http.MethodPut, c.collectionURL("/points?wait=true"),
		map[string]any{"points": points}, nil)
}

// Delete removes points by id; used when re-ingestion supersedes chunks.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, c.collectionURL("/points/delete?wait=true"),
		map[string]any{"points": ids}, nil)
}

type searchResponse struct {
	Result []struct {
		ID      string       `json:"id"`
		Score   float64      `json:"score"`
		Payload pointPayload `json:"payload"`
	} `json:"result"`
}

// Query returns the k most similar chunks to vector, optionally filtered to
// a set of document ids. Scores are clamped to [0,1] at this boundary so
// downstream ranking never sees backend-native ranges.
func (c *Client) Query(ctx context.Context, vector []float32, k int, documentIDs []string) ([]model.RetrievalHit, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if len(documentIDs) > 0 {
		req["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"any": documentIDs}},
			},
		}
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	hits := make([]model.RetrievalHit, 0, len(resp.Result))
	for rank, r := range resp.Result {
		hits = append(hits, model.RetrievalHit{
			Chunk: model.Chunk{
				ID:           r.ID,
				DocumentID:   r.Payload.DocumentID,
				DocumentName: r.Payload.DocumentName,
				Page:         r.Payload.Page,
				Section:      r.Payload.Section,
				Index:        r.Payload.Index,
				Text:         r.Payload.Text,
				ContentHash:  r.Payload.ContentHash,
			},
			Score: clampScore(r.Score),
			Rank:  rank,
		})
	}
	return hits, nil
}

// Healthy probes the collection for readiness checks.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.collectionURL(""), nil, nil)
}

func (c *Client) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Error("qdrant error", "method", method, "url", url,
			"status", resp.StatusCode, "body", string(detail))
		return fmt.Errorf("%w: status %d", apperrors.ErrIndexUnavailable, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", apperrors.ErrIndexUnavailable, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// clampScore normalizes backend scores into [0,1]. Cosine similarity over
// normalized embeddings already lands there; anything outside is clamped
// rather than rescaled so thresholds stay comparable across backends.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
