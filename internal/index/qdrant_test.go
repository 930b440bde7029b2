package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

func testClient(url string) *Client {
	return NewClient(config.IndexConfig{URL: url, Collection: "documents"})
}

func TestQueryParsesHitsAndAssignsRanks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/documents/points/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"result": [
			{"id": "p1", "score": 0.91, "payload": {"document_id": "d1", "document_name": "contract.pdf", "page": 7, "section": "Termination", "index": 3, "text": "60 days notice"}},
			{"id": "p2", "score": 1.7, "payload": {"document_id": "d1", "document_name": "contract.pdf", "page": 2, "section": "Parties", "index": 0, "text": "between A and B"}}
		]}`)
	}))
	defer srv.Close()

	hits, err := testClient(srv.URL).Query(context.Background(), []float32{0.1, 0.2}, 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Rank != 0 || hits[1].Rank != 1 {
		t.Fatalf("ranks = %d, %d, want result order", hits[0].Rank, hits[1].Rank)
	}
	if hits[0].Chunk.Section != "Termination" || hits[0].Score != 0.91 {
		t.Fatalf("first hit = %+v", hits[0])
	}
	if hits[1].Score != 1.0 {
		t.Fatalf("out-of-range score = %v, want clamped to 1.0", hits[1].Score)
	}
}

func TestQuerySendsDocumentFilter(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"result": []}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Query(context.Background(), []float32{0.1}, 10, []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	filter, ok := gotReq["filter"].(map[string]any)
	if !ok {
		t.Fatal("request carries no filter")
	}
	must := filter["must"].([]any)[0].(map[string]any)
	if must["key"] != "document_id" {
		t.Fatalf("filter key = %v", must["key"])
	}
	anyIDs := must["match"].(map[string]any)["any"].([]any)
	if len(anyIDs) != 2 || anyIDs[0] != "d1" {
		t.Fatalf("filter ids = %v", anyIDs)
	}
}

func TestQueryOmitsFilterWithoutDocumentIDs(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"result": []}`)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Query(context.Background(), []float32{0.1}, 10, nil); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, present := gotReq["filter"]; present {
		t.Fatal("filter sent for an unfiltered query")
	}
}

func TestQueryUnavailableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Query(context.Background(), []float32{0.1}, 5, nil)
	if !errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Fatalf("error = %v, want ErrIndexUnavailable", err)
	}
}

func TestUpsertSendsPointsWithPayload(t *testing.T) {
	var gotReq struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Error("upsert not waiting for durability")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"status": "ok"}`)
	}))
	defer srv.Close()

	err := testClient(srv.URL).Upsert(context.Background(), []model.Chunk{{
		ID:           "p1",
		DocumentID:   "d1",
		DocumentName: "contract.pdf",
		Page:         7,
		Section:      "Termination",
		Index:        3,
		Text:         "60 days notice",
		ContentHash:  "abc",
		Embedding:    []float32{0.1, 0.2},
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(gotReq.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(gotReq.Points))
	}
	p := gotReq.Points[0]
	if p.ID != "p1" || len(p.Vector) != 2 {
		t.Fatalf("point = %+v", p)
	}
	if p.Payload["content_hash"] != "abc" || p.Payload["document_id"] != "d1" {
		t.Fatalf("payload = %v", p.Payload)
	}
}

func TestDeleteByIDs(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/documents/points/delete" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"status": "ok"}`)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).Delete(context.Background(), []string{"p1", "p2"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ids := gotReq["points"].([]any); len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestEnsureCollectionRejectsBadDimension(t *testing.T) {
	err := testClient("http://unreachable.invalid").EnsureCollection(context.Background(), 0)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}
