// Package citation converts ranked retrieval hits into deduplicated, scored
// citation records. Output order is deterministic: descending score with
// ties broken by the original retrieval rank.
package citation

import (
	"sort"
	"strings"

	"github.com/edgeai/rag-gateway/internal/model"
)

// DefaultExcerptMaxLen bounds excerpt length when no limit is configured.
const DefaultExcerptMaxLen = 240

// Builder groups hits into citations.
type Builder struct {
	excerptMaxLen int
}

// NewBuilder creates a Builder. maxLen <= 0 selects DefaultExcerptMaxLen.
func NewBuilder(excerptMaxLen int) *Builder {
	if excerptMaxLen <= 0 {
		excerptMaxLen = DefaultExcerptMaxLen
	}
	return &Builder{excerptMaxLen: excerptMaxLen}
}

// groupKey deduplicates citations: one citation per document section.
type groupKey struct {
	document string
	section  string
}

// Build groups hits by (document, section), scores each group by the maximum
// score among its hits, and returns citations sorted by descending score with
// retrieval-rank tie-breaking. A section is as relevant as its most relevant
// matched chunk, so the excerpt comes from that chunk.
func (b *Builder) Build(hits []model.RetrievalHit) []model.Citation {
	if len(hits) == 0 {
		return []model.Citation{}
	}

	type group struct {
		best     model.RetrievalHit
		bestRank int
	}
	groups := make(map[groupKey]*group)
	order := make([]groupKey, 0, len(hits))

	for _, hit := range hits {
		key := groupKey{document: hit.Chunk.DocumentName, section: hit.Chunk.Section}
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{best: hit, bestRank: hit.Rank}
			order = append(order, key)
			continue
		}
		if hit.Score > g.best.Score {
			g.best = hit
		}
		if hit.Rank < g.bestRank {
			g.bestRank = hit.Rank
		}
	}

	citations := make([]model.Citation, 0, len(groups))
	ranks := make(map[groupKey]int, len(groups))
	for _, key := range order {
		g := groups[key]
		citations = append(citations, model.Citation{
			Document: g.best.Chunk.DocumentName,
			Page:     g.best.Chunk.Page,
			Section:  g.best.Chunk.Section,
			Score:    g.best.Score,
			Excerpt:  truncateExcerpt(g.best.Chunk.Text, b.excerptMaxLen),
		})
		ranks[key] = g.bestRank
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Score != citations[j].Score {
			return citations[i].Score > citations[j].Score
		}
		ki := groupKey{document: citations[i].Document, section: citations[i].Section}
		kj := groupKey{document: citations[j].Document, section: citations[j].Section}
		return ranks[ki] < ranks[kj]
	})

	return citations
}

// truncateExcerpt bounds text to maxLen runes, cutting back to the last
// whitespace boundary so an excerpt never ends mid-word, and appends an
// ellipsis when anything was removed.
func truncateExcerpt(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	cut := runes[:maxLen]
	// Walk back to the last whitespace so the cut never splits a word.
	last := -1
	for i, r := range cut {
		if r == ' ' || r == '\t' || r == '\n' {
			last = i
		}
	}
	if last > 0 {
		cut = cut[:last]
	}
	return strings.TrimSpace(string(cut)) + "…"
}
