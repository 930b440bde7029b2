package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgeai/rag-gateway/internal/chunker"
	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/internal/registry"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/resilience"
)

// embedBatchSize chunks per embedding call during ingestion.
const embedBatchSize = 32

// Splitter cuts document text into pieces.
type Splitter interface {
	Chunk(text string) []chunker.Piece
}

// DocumentStore persists document state and the chunk hash ledger.
type DocumentStore interface {
	RegisterDocument(ctx context.Context, ref model.DocumentRef) error
	MarkIndexed(ctx context.Context, documentID string, chunkCount int) error
	MarkFailed(ctx context.Context, documentID string) error
	GetDocument(ctx context.Context, documentID string) (registry.Document, error)
	ListDocuments(ctx context.Context) ([]registry.Document, error)
	ChunkHashes(ctx context.Context, documentID string) (map[string]string, error)
	ReplaceChunks(ctx context.Context, documentID string, hashes map[string]string) error
}

// DocumentID returns the effective document ID for a reference. A reference
// without an explicit ID gets one derived from its name, deterministic so
// that re-posting the same document hits the same ledger.
func DocumentID(ref model.DocumentRef) string {
	if ref.ID != "" {
		return ref.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("document:"+ref.Name)).String()
}

// Ingest chunks, embeds, and indexes one document. Chunk identity is derived
// from content, so re-ingesting an unchanged document embeds nothing, and a
// changed document replaces exactly the chunks whose text changed. Points
// left over from a previous version are deleted from the index after the new
// ones are written.
func (o *Orchestrator) Ingest(ctx context.Context, ref model.DocumentRef, text string) (model.IngestResult, error) {
	if strings.TrimSpace(ref.Name) == "" {
		return model.IngestResult{}, apperrors.New(apperrors.ErrInvalidInput, 400, "document name must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return model.IngestResult{}, apperrors.New(apperrors.ErrInvalidInput, 400, "document text must not be empty")
	}
	ref.ID = DocumentID(ref)

	result, err := o.ingest(ctx, ref, text)
	if err != nil {
		o.countIngest("error")
		if markErr := o.store.MarkFailed(ctx, ref.ID); markErr != nil {
			o.log.WarnContext(ctx, "marking document failed", "document_id", ref.ID, "error", markErr)
		}
		return model.IngestResult{}, err
	}
	o.countIngest("success")
	return result, nil
}

func (o *Orchestrator) ingest(ctx context.Context, ref model.DocumentRef, text string) (model.IngestResult, error) {
	start := time.Now()
	if err := o.store.RegisterDocument(ctx, ref); err != nil {
		return model.IngestResult{}, err
	}

	pieces := o.chunker.Chunk(text)
	if len(pieces) == 0 {
		return model.IngestResult{}, apperrors.New(apperrors.ErrInvalidInput, 400, "document produced no indexable chunks")
	}

	previous, err := o.store.ChunkHashes(ctx, ref.ID)
	if err != nil {
		return model.IngestResult{}, err
	}

	chunks := make([]model.Chunk, len(pieces))
	ledger := make(map[string]string, len(pieces))
	var fresh []model.Chunk
	skipped := 0
	for i, p := range pieces {
		c := buildChunk(ref, p)
		chunks[i] = c
		ledger[c.ID] = c.ContentHash
		if _, seen := previous[c.ID]; seen {
			skipped++
		} else {
			fresh = append(fresh, c)
		}
	}

	if err := o.embedChunks(ctx, fresh); err != nil {
		return model.IngestResult{}, &StageError{Stage: StageEmbedding, Err: err}
	}
	if len(fresh) > 0 {
		err := resilience.Retry(ctx, "index_upsert", resilience.RetryConfig{}, func() error {
			return o.index.Upsert(ctx, fresh)
		})
		if err != nil {
			return model.IngestResult{}, fmt.Errorf("indexing %d chunks: %w", len(fresh), err)
		}
	}

	var stale []string
	for pointID := range previous {
		if _, kept := ledger[pointID]; !kept {
			stale = append(stale, pointID)
		}
	}
	if len(stale) > 0 {
		err := resilience.Retry(ctx, "index_delete", resilience.RetryConfig{}, func() error {
			return o.index.Delete(ctx, stale)
		})
		if err != nil {
			return model.IngestResult{}, fmt.Errorf("deleting %d superseded chunks: %w", len(stale), err)
		}
	}

	if err := o.store.ReplaceChunks(ctx, ref.ID, ledger); err != nil {
		return model.IngestResult{}, err
	}
	if err := o.store.MarkIndexed(ctx, ref.ID, len(chunks)); err != nil {
		return model.IngestResult{}, err
	}

	o.observeIngest(len(fresh), skipped)
	o.log.InfoContext(ctx, "document ingested",
		"document_id", ref.ID,
		"document", ref.Name,
		"chunks", len(chunks),
		"embedded", len(fresh),
		"skipped", skipped,
		"superseded", len(stale),
		"elapsed", time.Since(start).Round(time.Millisecond))

	return model.IngestResult{
		DocumentID:       ref.ID,
		ChunkCount:       len(chunks),
		Ingested:         len(fresh),
		SkippedUnchanged: skipped,
		Superseded:       len(stale),
	}, nil
}

// embedChunks fills in embeddings in place, batching calls to the embedding
// backend with bounded concurrency.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	limit := o.cfg.Ingest.EmbedConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for start := 0; start < len(chunks); start += embedBatchSize {
		batch := chunks[start:min(start+embedBatchSize, len(chunks))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := o.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// buildChunk derives the chunk's identity from its content. The point ID is a
// UUID over the document ID and content hash, so identical text at the same
// locator maps to the same point across ingestion runs.
func buildChunk(ref model.DocumentRef, p chunker.Piece) model.Chunk {
	sum := sha256.Sum256([]byte(p.Text))
	hash := hex.EncodeToString(sum[:])
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref.ID+":"+hash+":"+fmt.Sprint(p.Index)))
	return model.Chunk{
		ID:           id.String(),
		DocumentID:   ref.ID,
		DocumentName: ref.Name,
		Page:         p.Page,
		Section:      p.Section,
		Index:        p.Index,
		Text:         p.Text,
		ContentHash:  hash,
	}
}

// Documents lists the registered documents.
func (o *Orchestrator) Documents(ctx context.Context) ([]registry.Document, error) {
	return o.store.ListDocuments(ctx)
}

// Document returns one registered document.
func (o *Orchestrator) Document(ctx context.Context, id string) (registry.Document, error) {
	return o.store.GetDocument(ctx, id)
}

func (o *Orchestrator) countIngest(outcome string) {
	if o.metrics != nil {
		o.metrics.IngestJobsTotal.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) observeIngest(ingested, skipped int) {
	if o.metrics != nil {
		o.metrics.ChunksIngestedTotal.Add(float64(ingested))
		o.metrics.ChunksSkippedTotal.Add(float64(skipped))
	}
}
