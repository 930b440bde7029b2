// Package model holds the shared data types that flow between the gateway's
// components: chat requests and responses, indexed chunks, retrieval hits,
// citations, prompt plans, and ingest results.
package model

// RoleUser and RoleAssistant tag conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an incoming question with optional conversation history,
// an optional document filter, and an optional completion-size hint. It is
// never mutated after decoding.
type ChatRequest struct {
	Question    string        `json:"question"`
	History     []ChatMessage `json:"history,omitempty"`
	DocumentIDs []string      `json:"document_ids,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Chunk is a unit of indexed document text. Chunks are created during
// ingestion and immutable thereafter; re-ingestion of changed content
// supersedes the chunk at the same locator rather than mutating it.
type Chunk struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Page         int       `json:"page"`
	Section      string    `json:"section"`
	Index        int       `json:"index"`
	Text         string    `json:"text"`
	ContentHash  string    `json:"content_hash"`
	Embedding    []float32 `json:"-"`
}

// RetrievalHit is a chunk reference with a similarity score in [0,1],
// produced per query. Rank is the position in the backend's result order
// and breaks score ties downstream.
type RetrievalHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Citation is a structured reference from an answer back to a source
// document section. No two citations in one response share the same
// (document, section) key.
type Citation struct {
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Section  string  `json:"section"`
	Score    float64 `json:"score"`
	Excerpt  string  `json:"excerpt"`
}

// PromptPlan is the assembled context for one generation call. TotalTokens
// never exceeds the configured context budget.
type PromptPlan struct {
	Messages    []ChatMessage `json:"messages"`
	Chunks      []Chunk       `json:"chunks"`
	TotalTokens int           `json:"total_tokens"`
	Truncated   bool          `json:"truncated"`
	NoContext   bool          `json:"no_context"`
}

// Usage reports token accounting for one completed request. Estimated is set
// when the backend did not report a completion token count and the gateway
// fell back to a word-count heuristic.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	LatencySeconds   float64 `json:"latency_seconds"`
	TokensPerSec     float64 `json:"tokens_per_sec"`
	Estimated        bool    `json:"estimated,omitempty"`
}

// ChatResponse is the gateway's answer for one chat turn. Citations are
// ordered by descending relevance score, ties broken by retrieval rank.
// Answer is either complete or absent; it never carries partial output.
type ChatResponse struct {
	ID        string     `json:"id"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Usage     Usage      `json:"usage"`
}

// DocumentRef identifies a document to ingest.
type DocumentRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// IngestResult summarises one ingestion run. Re-ingesting an unchanged
// document yields Ingested == 0 and SkippedUnchanged == ChunkCount.
type IngestResult struct {
	DocumentID       string `json:"document_id"`
	ChunkCount       int    `json:"chunk_count"`
	Ingested         int    `json:"ingested"`
	SkippedUnchanged int    `json:"skipped_unchanged"`
	Superseded       int    `json:"superseded"`
}
