// Package registry tracks ingested documents and the content hashes of their
// chunks. The hash ledger is what makes re-ingestion idempotent: unchanged
// chunks are skipped and stale ones deleted from the index.
package registry

import (
	"context"
	"time"

	"github.com/edgeai/rag-gateway/internal/model"
)

// Document statuses.
const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

// Document is a registered source document and its ingestion state.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path,omitempty"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists documents and their chunk hash ledger.
type Store interface {
	// RegisterDocument creates or resets the document row to PENDING.
	RegisterDocument(ctx context.Context, ref model.DocumentRef) error
	// MarkIndexed records a successful ingestion and the chunk count.
	MarkIndexed(ctx context.Context, documentID string, chunkCount int) error
	// MarkFailed records a failed ingestion.
	MarkFailed(ctx context.Context, documentID string) error
	// GetDocument returns one document or errors.ErrDocumentNotFound.
	GetDocument(ctx context.Context, documentID string) (Document, error)
	// ListDocuments returns all documents, newest first.
	ListDocuments(ctx context.Context) ([]Document, error)
	// ChunkHashes returns the ledger for a document: point ID to content hash.
	ChunkHashes(ctx context.Context, documentID string) (map[string]string, error)
	// ReplaceChunks atomically swaps the document's ledger for a new one.
	ReplaceChunks(ctx context.Context, documentID string, hashes map[string]string) error
}
