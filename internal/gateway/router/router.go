// Package router wires the gateway routes and applies the middleware chain
// (RequestID → Metrics → Auth).
package router

import (
	"net/http"

	"github.com/edgeai/rag-gateway/internal/auth"
	gwhandler "github.com/edgeai/rag-gateway/internal/gateway/handler"
	"github.com/edgeai/rag-gateway/pkg/config"
	"github.com/edgeai/rag-gateway/pkg/health"
	"github.com/edgeai/rag-gateway/pkg/metrics"
	pkgmw "github.com/edgeai/rag-gateway/pkg/middleware"
)

// New builds the gateway HTTP handler with all routes and middleware.
//
// Route table:
//
//	POST   /api/v1/chat               → answer a question (?stream=true for SSE)
//	POST   /api/v1/ingest             → ingest a document (202 when queued)
//	GET    /api/v1/documents          → list documents
//	GET    /api/v1/documents/{id}     → get document
//	GET    /health                    → dependency health report
//	GET    /health/live               → liveness probe
//	GET    /health/ready, /ready      → readiness probe
//
// Health endpoints are unauthenticated. The chat route carries no server-side
// write timeout so streamed responses are not cut off; the admission
// controller and per-stage deadlines bound its lifetime instead.
func New(h *gwhandler.Handler, checker *health.Checker, m *metrics.Metrics, cfg config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health (unauthenticated)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.HandleFunc("GET /ready", checker.ReadyHandler())

	// Chat API. No wall-clock bound here: streamed responses outlive any
	// fixed value, and admission plus stage deadlines cap the rest.
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/chat", h.Chat)

	// Document API. These never stream, so the server write timeout doubles
	// as a request deadline.
	bounded := pkgmw.Timeout(cfg.Server.WriteTimeout)
	api.Handle("POST /api/v1/ingest", bounded(http.HandlerFunc(h.Ingest)))
	api.Handle("GET /api/v1/documents", bounded(http.HandlerFunc(h.ListDocuments)))
	api.Handle("GET /api/v1/documents/{id}", bounded(http.HandlerFunc(h.GetDocument)))

	authed := auth.Middleware(cfg.Auth.APIKeys, h.WriteError)(api)
	mux.Handle("/api/", authed)

	// Middleware chain, applied inside-out:
	// request, then RequestID, then Metrics, then mux.
	var chain http.Handler = mux
	chain = pkgmw.Metrics(m)(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}
