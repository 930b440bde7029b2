package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edgeai/rag-gateway/internal/model"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := model.DocumentRef{ID: "d1", Name: "contract.pdf", Path: "/data/contract.pdf"}

	if err := s.RegisterDocument(ctx, ref); err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	doc, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING after registration", doc.Status)
	}

	if err := s.MarkIndexed(ctx, "d1", 7); err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}
	doc, _ = s.GetDocument(ctx, "d1")
	if doc.Status != StatusIndexed || doc.ChunkCount != 7 {
		t.Fatalf("doc = %+v", doc)
	}

	// Re-registering resets the document to pending but keeps its identity.
	created := doc.CreatedAt
	if err := s.RegisterDocument(ctx, ref); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	doc, _ = s.GetDocument(ctx, "d1")
	if doc.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING after re-registration", doc.Status)
	}
	if !doc.CreatedAt.Equal(created) {
		t.Fatal("re-registration must not reset CreatedAt")
	}
}

func TestMemoryStoreUnknownDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("GetDocument error = %v, want ErrDocumentNotFound", err)
	}
	if err := s.MarkIndexed(ctx, "missing", 1); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("MarkIndexed error = %v, want ErrDocumentNotFound", err)
	}
	if err := s.MarkFailed(ctx, "missing"); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("MarkFailed error = %v, want ErrDocumentNotFound", err)
	}
}

func TestMemoryStoreChunkLedger(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	hashes, err := s.ChunkHashes(ctx, "d1")
	if err != nil {
		t.Fatalf("ChunkHashes: %v", err)
	}
	if len(hashes) != 0 {
		t.Fatalf("ledger = %v, want empty for unknown document", hashes)
	}

	if err := s.ReplaceChunks(ctx, "d1", map[string]string{"p1": "h1", "p2": "h2"}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	hashes, _ = s.ChunkHashes(ctx, "d1")
	if len(hashes) != 2 || hashes["p1"] != "h1" {
		t.Fatalf("ledger = %v", hashes)
	}

	// The returned map is a copy; mutating it must not corrupt the store.
	hashes["p1"] = "corrupted"
	fresh, _ := s.ChunkHashes(ctx, "d1")
	if fresh["p1"] != "h1" {
		t.Fatal("ledger mutated through a returned copy")
	}

	if err := s.ReplaceChunks(ctx, "d1", map[string]string{"p3": "h3"}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	hashes, _ = s.ChunkHashes(ctx, "d1")
	if len(hashes) != 1 || hashes["p3"] != "h3" {
		t.Fatalf("ledger after replace = %v", hashes)
	}
}

func TestMemoryStoreListOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.RegisterDocument(ctx, model.DocumentRef{ID: id, Name: id + ".txt"}); err != nil {
			t.Fatalf("RegisterDocument %s: %v", id, err)
		}
		time.Sleep(time.Millisecond)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("documents = %d, want 3", len(docs))
	}
	if docs[0].ID != "c" || docs[2].ID != "a" {
		t.Fatalf("order = [%s %s %s], want newest first", docs[0].ID, docs[1].ID, docs[2].ID)
	}
}
