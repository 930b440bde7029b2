package prompt

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/edgeai/rag-gateway/internal/model"
	"github.com/edgeai/rag-gateway/pkg/config"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

func testConfig() config.PromptConfig {
	return config.PromptConfig{
		ContextBudget:      3000,
		HistoryBudget:      800,
		QuestionReserve:    256,
		GenerationHeadroom: 512,
		ExcerptMaxLen:      240,
	}
}

func hit(doc string, page int, section, text string, score float64, rank int) model.RetrievalHit {
	return model.RetrievalHit{
		Chunk: model.Chunk{
			ID:           fmt.Sprintf("%s-%d-%d", doc, page, rank),
			DocumentName: doc,
			Page:         page,
			Section:      section,
			Text:         text,
		},
		Score: score,
		Rank:  rank,
	}
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ")
}

func TestBuildStaysWithinBudget(t *testing.T) {
	b := NewBuilder(testConfig())

	hits := make([]model.RetrievalHit, 0, 30)
	for i := 0; i < 30; i++ {
		hits = append(hits, hit("report.pdf", i+1, "Section", words(200), 0.9-float64(i)*0.01, i))
	}

	plan, err := b.Build("What is the termination notice period?", nil, hits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.TotalTokens > 3000 {
		t.Fatalf("TotalTokens = %d, exceeds budget 3000", plan.TotalTokens)
	}
	if !plan.Truncated {
		t.Fatal("expected Truncated with 30 large chunks")
	}
	if len(plan.Chunks) == 0 {
		t.Fatal("expected at least one chunk included")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder(testConfig())
	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "earlier question"},
		{Role: model.RoleAssistant, Content: "earlier answer"},
	}
	hits := []model.RetrievalHit{
		hit("a.pdf", 1, "Intro", words(50), 0.8, 0),
		hit("b.pdf", 2, "Terms", words(60), 0.7, 1),
	}

	first, err := b.Build("question?", history, hits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := b.Build("question?", history, hits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs produced different plans")
	}
}

func TestBuildRejectsOversizedQuestion(t *testing.T) {
	b := NewBuilder(testConfig())

	_, err := b.Build(words(4000), nil, nil)
	if !errors.Is(err, apperrors.ErrPromptTooLarge) {
		t.Fatalf("error = %v, want ErrPromptTooLarge", err)
	}
}

func TestBuildOrdersChunksByScoreThenRank(t *testing.T) {
	b := NewBuilder(testConfig())
	hits := []model.RetrievalHit{
		hit("low.pdf", 1, "A", "low score text", 0.40, 0),
		hit("tie-late.pdf", 2, "B", "tie arrived later", 0.90, 3),
		hit("tie-early.pdf", 3, "C", "tie arrived earlier", 0.90, 1),
		hit("high.pdf", 4, "D", "highest score", 0.95, 2),
	}

	plan, err := b.Build("q?", nil, hits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := make([]string, len(plan.Chunks))
	for i, c := range plan.Chunks {
		got[i] = c.DocumentName
	}
	want := []string{"high.pdf", "tie-early.pdf", "tie-late.pdf", "low.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunk order = %v, want %v", got, want)
	}
}

// A chunk that does not fit whole is excluded entirely, never cut mid-text.
func TestBuildNeverSplitsChunks(t *testing.T) {
	cfg := testConfig()
	cfg.ContextBudget = 1100
	cfg.HistoryBudget = 0
	b := NewBuilder(cfg)

	big := words(150)
	hits := []model.RetrievalHit{
		hit("a.pdf", 1, "S", big, 0.9, 0),
		hit("b.pdf", 2, "S", big, 0.8, 1),
	}

	plan, err := b.Build("q?", nil, hits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Chunks) != 1 {
		t.Fatalf("chunks included = %d, want exactly 1", len(plan.Chunks))
	}
	if plan.Chunks[0].Text != big {
		t.Fatal("included chunk text was altered")
	}
	if !plan.Truncated {
		t.Fatal("expected Truncated when a chunk is excluded")
	}
}

func TestBuildTrimsOldestHistoryFirst(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryBudget = 30
	b := NewBuilder(cfg)

	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: words(15)},      // oldest, should drop
		{Role: model.RoleAssistant, Content: words(10)}, // kept
		{Role: model.RoleUser, Content: words(10)},      // kept
	}

	plan, err := b.Build("q?", history, []model.RetrievalHit{hit("a.pdf", 1, "S", "text", 0.9, 0)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// system + kept history + final user message
	if len(plan.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (oldest history turn dropped)", len(plan.Messages))
	}
	if plan.Messages[1].Role != model.RoleAssistant {
		t.Fatalf("first kept turn role = %q, want assistant", plan.Messages[1].Role)
	}
}

func TestBuildNoContextMode(t *testing.T) {
	b := NewBuilder(testConfig())

	plan, err := b.Build("anything?", nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !plan.NoContext {
		t.Fatal("expected NoContext with zero hits")
	}
	if len(plan.Chunks) != 0 {
		t.Fatalf("chunks = %d, want 0", len(plan.Chunks))
	}
	if !strings.Contains(plan.Messages[0].Content, "No relevant passages") {
		t.Fatal("system prompt does not announce missing context")
	}
	last := plan.Messages[len(plan.Messages)-1]
	if strings.Contains(last.Content, "Context:") {
		t.Fatal("user message carries a context header with no chunks")
	}
}

// When hits exist but not one fits the budget, the plan must fall back to the
// no-context system prompt instead of keeping the strict cite-your-sources one.
func TestBuildNoContextWhenNoChunkFits(t *testing.T) {
	b := NewBuilder(testConfig())

	plan, err := b.Build("q?", nil, []model.RetrievalHit{
		hit("huge.pdf", 1, "All", words(2000), 0.95, 0),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !plan.NoContext {
		t.Fatal("expected NoContext when the only chunk overflows the budget")
	}
	if !plan.Truncated {
		t.Fatal("expected Truncated when a chunk is excluded")
	}
	if len(plan.Chunks) != 0 {
		t.Fatalf("chunks = %d, want 0", len(plan.Chunks))
	}
	if !strings.Contains(plan.Messages[0].Content, "No relevant passages") {
		t.Fatal("system prompt does not announce missing context")
	}
	if strings.Contains(plan.Messages[0].Content, "ONLY the context provided") {
		t.Fatal("strict system prompt survived an empty context")
	}
}

func TestBuildRendersSourceAttribution(t *testing.T) {
	b := NewBuilder(testConfig())
	plan, err := b.Build("q?", nil, []model.RetrievalHit{
		hit("contract.pdf", 7, "Termination", "Either party may terminate with 60 days notice.", 0.91, 0),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	user := plan.Messages[len(plan.Messages)-1].Content
	want := "Source: [1] contract.pdf | Page 7 | Section: Termination"
	if !strings.Contains(user, want) {
		t.Fatalf("user message missing %q:\n%s", want, user)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"two words", 3},           // 2 / 0.75 rounded
		{words(75), 100},           // 75 / 0.75
		{"  padded   spacing ", 3}, // fields, not bytes
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
