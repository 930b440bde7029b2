package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgeai/rag-gateway/pkg/logger"
	"github.com/edgeai/rag-gateway/pkg/metrics"
	pkgredis "github.com/edgeai/rag-gateway/pkg/redis"
)

const cacheKeyPrefix = "embed:"

// Embedder is the capability the orchestrator needs; both Client and
// CachedEmbedder satisfy it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CachedEmbedder wraps an Embedder with a Redis cache keyed by the SHA-256
// of (model, text). Identical questions asked back to back embed once:
// concurrent lookups for the same text are collapsed via singleflight. Cache
// failures degrade to the backend, never to a request failure.
type CachedEmbedder struct {
	inner   Embedder
	client  *pkgredis.Client
	model   string
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewCachedEmbedder wraps inner with a Redis cache. m may be nil in tests.
func NewCachedEmbedder(inner Embedder, client *pkgredis.Client, model string, ttl time.Duration, m *metrics.Metrics) *CachedEmbedder {
	return &CachedEmbedder{
		inner:   inner,
		client:  client,
		model:   model,
		ttl:     ttl,
		metrics: m,
		log:     logger.WithComponent("embedding-cache"),
	}
}

// Embed returns the cached vector for text, computing and storing it on miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.buildKey(text)

	if vector, ok := c.lookup(ctx, key); ok {
		c.countHit()
		return vector, nil
	}
	c.countMiss()

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if vector, ok := c.lookup(ctx, key); ok {
			return vector, nil
		}
		vector, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, vector)
		return vector, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]float32), nil
}

// EmbedBatch bypasses the cache: batches only occur on the ingestion path,
// where content hashes already skip unchanged chunks before embedding.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.log.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal([]byte(data), &vector); err != nil {
		c.log.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return vector, true
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		c.log.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.log.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *CachedEmbedder) buildKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) countHit() {
	if c.metrics != nil {
		c.metrics.EmbeddingCacheHitsTotal.Inc()
	}
}

func (c *CachedEmbedder) countMiss() {
	if c.metrics != nil {
		c.metrics.EmbeddingCacheMissTotal.Inc()
	}
}
