package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edgeai/rag-gateway/internal/model"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

// MemoryStore is an in-process Store used when no database is configured.
// State does not survive a restart, so re-ingestion falls back to a full
// re-embed of every document.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]Document
	chunks map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]Document),
		chunks: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) RegisterDocument(_ context.Context, ref model.DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	doc, ok := s.docs[ref.ID]
	if !ok {
		doc = Document{ID: ref.ID, CreatedAt: now}
	}
	doc.Name = ref.Name
	doc.Path = ref.Path
	doc.Status = StatusPending
	doc.UpdatedAt = now
	s.docs[ref.ID] = doc
	return nil
}

func (s *MemoryStore) MarkIndexed(_ context.Context, documentID string, chunkCount int) error {
	return s.setStatus(documentID, StatusIndexed, chunkCount)
}

func (s *MemoryStore) MarkFailed(_ context.Context, documentID string) error {
	return s.setStatus(documentID, StatusFailed, 0)
}

func (s *MemoryStore) setStatus(documentID, status string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return apperrors.ErrDocumentNotFound
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.UpdatedAt = time.Now().UTC()
	s.docs[documentID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return Document{}, apperrors.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *MemoryStore) ChunkHashes(_ context.Context, documentID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make(map[string]string, len(s.chunks[documentID]))
	for pointID, hash := range s.chunks[documentID] {
		hashes[pointID] = hash
	}
	return hashes, nil
}

func (s *MemoryStore) ReplaceChunks(_ context.Context, documentID string, hashes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(hashes))
	for pointID, hash := range hashes {
		copied[pointID] = hash
	}
	s.chunks[documentID] = copied
	return nil
}
