// Package handler implements the gateway's HTTP endpoints: chat, document
// ingestion, document listing, and health.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/internal/orchestrator"
	"github.com/edgeai/rag-gateway/internal/registry"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/health"
	"github.com/edgeai/rag-gateway/pkg/kafka"
	"github.com/edgeai/rag-gateway/pkg/logger"
)

// maxBodyBytes caps request bodies. Documents arrive as extracted plain
// text, so this is generous.
const maxBodyBytes = 16 << 20

// IngestPublisher queues ingest jobs for asynchronous processing.
type IngestPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Handler implements the gateway's HTTP endpoints. producer may be nil, in
// which case ingestion always runs inline.
type Handler struct {
	orch     *orchestrator.Orchestrator
	producer IngestPublisher
	checker  *health.Checker
	cfg      config.Config
	logger   *slog.Logger
}

// New creates a gateway Handler.
func New(orch *orchestrator.Orchestrator, producer IngestPublisher, checker *health.Checker, cfg config.Config) *Handler {
	return &Handler{
		orch:     orch,
		producer: producer,
		checker:  checker,
		cfg:      cfg,
		logger:   slog.Default().With("component", "gateway-handler"),
	}
}

// ---------- Chat ----------

// Chat answers one question over the indexed documents. With ?stream=true
// the answer is sent as server-sent events; otherwise as a single JSON
// response.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		h.chatStream(w, r, req)
		return
	}

	resp, err := h.orch.Answer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// chatStream sends the answer as SSE: delta events while the model
// generates, one final done event with citations and usage. Failures before
// the first token map to a regular error status; later ones arrive in-band.
func (h *Handler) chatStream(w http.ResponseWriter, r *http.Request, req model.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, apperrors.New(apperrors.ErrInternal, 500, "streaming unsupported by connection"))
		return
	}

	events, err := h.orch.AnswerStream(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeSSE(w, "error", map[string]string{"error": ev.Err.Error()})
		case ev.Done:
			writeSSE(w, "done", ev.Response)
		default:
			writeSSE(w, "delta", map[string]string{"delta": ev.Delta})
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
}

// ---------- Ingestion ----------

type ingestRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Text string `json:"text"`
}

type ingestQueued struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// Ingest indexes one document. When async ingestion is configured and a
// queue is attached, the job is published and accepted with 202; otherwise
// it runs inline and returns the full result.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ref := model.DocumentRef{ID: req.ID, Name: req.Name, Path: req.Path}

	if h.cfg.Ingest.Async && h.producer != nil {
		ref.ID = orchestrator.DocumentID(ref)
		job := ingestRequest{ID: ref.ID, Name: ref.Name, Path: ref.Path, Text: req.Text}
		if err := h.producer.Publish(r.Context(), kafka.Event{Key: ref.ID, Value: job}); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, ingestQueued{DocumentID: ref.ID, Status: "queued"})
		return
	}

	result, err := h.orch.Ingest(r.Context(), ref, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ---------- Documents ----------

// ListDocuments returns all registered documents, newest first.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.orch.Documents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []registry.Document{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// GetDocument returns one registered document by ID.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.orch.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// ---------- Health ----------

// Health reports the gateway's dependency health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	report := h.checker.Run(ctx)
	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

// ---------- Helpers ----------

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "decoding request body: %v", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

// WriteError maps an error to its HTTP status and writes a JSON error body.
// It also serves as the rejection callback for the auth middleware.
func (h *Handler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeError(w, r, err)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}

	body := map[string]string{"error": publicMessage(err)}
	if id := logger.RequestIDFrom(r.Context()); id != "" {
		body["request_id"] = id
	}
	h.writeJSON(w, status, body)
}

// publicMessage strips stage wrapping down to the application error message
// so internals do not leak into responses.
func publicMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	var stageErr *orchestrator.StageError
	if errors.As(err, &stageErr) {
		return "request failed during " + stageErr.Stage
	}
	return err.Error()
}
