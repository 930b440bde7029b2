package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

func testClient(url string, timeout time.Duration) *Client {
	return NewClient(config.InferenceConfig{
		URL:         url,
		Model:       "llama-3b",
		MaxTokens:   512,
		Temperature: 0.0,
		Timeout:     timeout,
	})
}

func messages() []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleSystem, Content: "system"},
		{Role: model.RoleUser, Content: "question"},
	}
}

func TestGenerate(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "60 days"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 8, "total_tokens": 128}
		}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	res, err := c.Generate(context.Background(), messages(), 64)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "60 days" {
		t.Fatalf("text = %q", res.Text)
	}
	if !res.Reported || res.PromptTokens != 120 || res.CompletionTokens != 8 {
		t.Fatalf("usage = %+v, want reported 120/8", res)
	}
	if gotReq["model"] != "llama-3b" {
		t.Fatalf("request model = %v", gotReq["model"])
	}
	if got := gotReq["max_tokens"].(float64); got != 64 {
		t.Fatalf("max_tokens = %v, want requested 64", got)
	}
	if gotReq["stream"] != false {
		t.Fatal("stream should be false for blocking generation")
	}
}

func TestGenerateCapsRequestedTokens(t *testing.T) {
	var gotMax float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		gotMax = req["max_tokens"].(float64)
		fmt.Fprint(w, `{"choices": [{"message": {"content": "x"}}]}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	if _, err := c.Generate(context.Background(), messages(), 100000); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotMax != 512 {
		t.Fatalf("max_tokens = %v, want capped at 512", gotMax)
	}
}

func TestGenerateWithoutUsageBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "answer"}}]}`)
	}))
	defer srv.Close()

	res, err := testClient(srv.URL, 5*time.Second).Generate(context.Background(), messages(), 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reported {
		t.Fatal("Reported = true with no usage block")
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 50*time.Millisecond).Generate(context.Background(), messages(), 0)
	if !errors.Is(err, apperrors.ErrInferenceTimeout) {
		t.Fatalf("error = %v, want ErrInferenceTimeout", err)
	}
}

func TestGenerateCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := testClient(srv.URL, 5*time.Second).Generate(ctx, messages(), 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, apperrors.ErrInferenceTimeout) || errors.Is(err, apperrors.ErrInferenceTransport) {
		t.Fatalf("caller cancellation misclassified: %v", err)
	}
}

func TestGenerateBackendErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"server error is transport failure", http.StatusServiceUnavailable, apperrors.ErrInferenceTransport},
		{"bad gateway is transport failure", http.StatusBadGateway, apperrors.ErrInferenceTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := testClient(srv.URL, time.Second).Generate(context.Background(), messages(), 0)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGenerateRejectedRequestIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, time.Second).Generate(context.Background(), messages(), 0)
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if errors.Is(err, apperrors.ErrInferenceTransport) {
		t.Fatalf("4xx classified as transport error: %v", err)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Error("stream not requested")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"The notice \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"period is 60 days.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":100,\"completion_tokens\":9,\"total_tokens\":109}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ch, err := testClient(srv.URL, 5*time.Second).GenerateStream(context.Background(), messages(), 0)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var text string
	var terminal *Fragment
	for frag := range ch {
		if frag.Done {
			f := frag
			terminal = &f
			continue
		}
		text += frag.Text
	}
	if text != "The notice period is 60 days." {
		t.Fatalf("streamed text = %q", text)
	}
	if terminal == nil {
		t.Fatal("no terminal fragment")
	}
	if terminal.Err != nil {
		t.Fatalf("terminal error: %v", terminal.Err)
	}
	if terminal.Usage == nil || terminal.Usage.CompletionTokens != 9 {
		t.Fatalf("terminal usage = %+v, want completion 9", terminal.Usage)
	}
}

func TestGenerateStreamWithoutDoneMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	ch, err := testClient(srv.URL, 5*time.Second).GenerateStream(context.Background(), messages(), 0)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	sawDone := false
	for frag := range ch {
		if frag.Done {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatal("stream closed without a terminal fragment")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	if err := testClient(srv.URL, time.Second).Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy: %v", err)
	}
}
