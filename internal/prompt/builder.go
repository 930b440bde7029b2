// Package prompt assembles token-budgeted prompts for the generation
// backend. The builder is deterministic: identical inputs always produce an
// identical plan, with no randomness or wall-clock dependence.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

// systemPrompt instructs the model to answer strictly from the provided
// context and cite every claim.
const systemPrompt = `You are a document assistant. You help users find precise information from company reports, legal agreements, and financial filings.

Rules:
1. Answer using ONLY the context provided. Extract facts exactly as written.
2. For every claim cite the source - document name, page number, and section.
3. If the context does not contain the answer, say so plainly.
4. Never speculate or add information from outside the context.`

// noContextSystemPrompt is used when retrieval produced nothing above the
// similarity threshold. The model must not invent sources.
const noContextSystemPrompt = `You are a document assistant. No relevant passages were found in the indexed documents for this question. Answer from general knowledge when you safely can, state clearly that the indexed documents contain no relevant passage, and never invent document names, page numbers, or sections.`

const contextSeparator = "\n\n---\n\n"

// Builder assembles PromptPlans within the configured token budgets.
type Builder struct {
	cfg config.PromptConfig
}

// NewBuilder creates a Builder from the prompt budget configuration.
func NewBuilder(cfg config.PromptConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build produces a token-budgeted prompt plan from the question, prior
// conversation turns, and the surviving retrieval hits.
//
// Chunks are included whole, greedily, in descending similarity order; the
// first chunk that would overflow the remaining budget ends inclusion. A
// chunk is never truncated mid-text, since a cut-off chunk could be cited as
// if it were complete. History is included most-recent-first up to its own
// smaller budget; older turns are dropped silently. The question itself and
// a fixed generation headroom are reserved up front: a question that cannot
// fit alongside those reserves fails with ErrPromptTooLarge rather than
// being silently truncated.
func (b *Builder) Build(question string, history []model.ChatMessage, hits []model.RetrievalHit) (model.PromptPlan, error) {
	noContext := len(hits) == 0
	system := systemPrompt
	if noContext {
		system = noContextSystemPrompt
	}

	systemTokens := EstimateTokens(system)
	questionTokens := EstimateTokens(question)
	questionUse := questionTokens
	if questionUse < b.cfg.QuestionReserve {
		questionUse = b.cfg.QuestionReserve
	}

	fixed := systemTokens + questionUse + b.cfg.GenerationHeadroom
	if fixed > b.cfg.ContextBudget {
		return model.PromptPlan{}, apperrors.Newf(apperrors.ErrPromptTooLarge, 400,
			"question needs %d tokens, budget is %d", fixed, b.cfg.ContextBudget)
	}

	remaining := b.cfg.ContextBudget - fixed

	// History: newest first against its own budget, emitted oldest first.
	historyBudget := b.cfg.HistoryBudget
	if historyBudget > remaining {
		historyBudget = remaining
	}
	kept := make([]model.ChatMessage, 0, len(history))
	historyTokens := 0
	for i := len(history) - 1; i >= 0; i-- {
		t := EstimateTokens(history[i].Content)
		if historyTokens+t > historyBudget {
			break
		}
		historyTokens += t
		kept = append(kept, history[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	remaining -= historyTokens

	// Chunks: descending score, ties broken by retrieval rank, whole chunks
	// only. Stop at the first chunk that would overflow.
	ordered := make([]model.RetrievalHit, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Rank < ordered[j].Rank
	})

	var blocks []string
	var included []model.Chunk
	chunkTokens := 0
	truncated := false
	for i, hit := range ordered {
		block := renderSourceBlock(i+1, hit.Chunk)
		t := EstimateTokens(block)
		if chunkTokens+t > remaining {
			truncated = true
			break
		}
		chunkTokens += t
		blocks = append(blocks, block)
		included = append(included, hit.Chunk)
	}

	var userContent string
	if len(blocks) > 0 {
		userContent = fmt.Sprintf("Context:\n%s\n\nQuestion: %s",
			strings.Join(blocks, contextSeparator), question)
	} else {
		// Hits arrived but none fit the budget. The plan has no context, so
		// the system prompt must match or the model is told to cite sources
		// it never saw.
		userContent = fmt.Sprintf("Question: %s", question)
		if !noContext {
			noContext = true
			system = noContextSystemPrompt
			systemTokens = EstimateTokens(system)
		}
	}

	messages := make([]model.ChatMessage, 0, len(kept)+2)
	messages = append(messages, model.ChatMessage{Role: model.RoleSystem, Content: system})
	messages = append(messages, kept...)
	messages = append(messages, model.ChatMessage{Role: model.RoleUser, Content: userContent})

	return model.PromptPlan{
		Messages:    messages,
		Chunks:      included,
		TotalTokens: systemTokens + questionTokens + historyTokens + chunkTokens,
		Truncated:   truncated,
		NoContext:   noContext,
	}, nil
}

// renderSourceBlock formats one retrieved chunk as a numbered, attributed
// context block.
func renderSourceBlock(n int, c model.Chunk) string {
	section := c.Section
	if section == "" {
		section = "Unknown"
	}
	return fmt.Sprintf("Source: [%d] %s | Page %d | Section: %s\n%s",
		n, c.DocumentName, c.Page, section, c.Text)
}
