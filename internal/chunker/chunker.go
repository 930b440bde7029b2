// Package chunker splits extracted document text into retrievable pieces.
// It is a deliberately simple section-aware splitter: headings open a new
// section, form feeds advance the page counter, and section bodies are cut
// into word-bounded, overlapping windows. Layout-aware PDF parsing happens
// upstream of the gateway; this package only consumes its plain-text output.
package chunker

import (
	"regexp"
	"strings"

	"github.com/edgeai/rag-gateway/pkg/config"
)

// Piece is one chunk of document text with its locator.
type Piece struct {
	Page    int
	Section string
	Index   int
	Text    string
}

// Chunker cuts section bodies into word windows.
type Chunker struct {
	maxWords     int
	overlapWords int
	minWords     int
}

var numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S`)

// New creates a Chunker from the ingest configuration, applying defaults for
// unset values.
func New(cfg config.IngestConfig) *Chunker {
	maxWords := cfg.ChunkMaxWords
	if maxWords <= 0 {
		maxWords = 220
	}
	overlap := cfg.ChunkOverlapWords
	if overlap < 0 || overlap >= maxWords {
		overlap = maxWords / 8
	}
	minWords := cfg.MinChunkWords
	if minWords < 0 {
		minWords = 0
	}
	return &Chunker{maxWords: maxWords, overlapWords: overlap, minWords: minWords}
}

// Chunk splits text into pieces. Pieces shorter than the minimum word count
// are dropped: heading fragments and page furniture embed poorly and pollute
// retrieval.
func (c *Chunker) Chunk(text string) []Piece {
	var pieces []Piece
	page := 1
	section := ""
	var sectionWords []string

	flush := func() {
		pieces = append(pieces, c.windows(sectionWords, page, section, len(pieces))...)
		sectionWords = nil
	}

	for _, rawLine := range strings.Split(text, "\n") {
		pageBreaks := strings.Count(rawLine, "\f")
		line := strings.TrimSpace(strings.ReplaceAll(rawLine, "\f", " "))

		if isHeading(line) {
			flush()
			section = line
			page += pageBreaks
			continue
		}
		if line != "" {
			sectionWords = append(sectionWords, strings.Fields(line)...)
		}
		if pageBreaks > 0 {
			flush()
			page += pageBreaks
		}
	}
	flush()

	// Re-number: flush assigned provisional indexes before drops upstream.
	for i := range pieces {
		pieces[i].Index = i
	}
	return pieces
}

// windows cuts one section's words into overlapping chunks.
func (c *Chunker) windows(words []string, page int, section string, startIndex int) []Piece {
	if len(words) < c.minWords || len(words) == 0 {
		return nil
	}
	var out []Piece
	idx := startIndex
	for start := 0; start < len(words); {
		end := start + c.maxWords
		if end > len(words) {
			end = len(words)
		}
		chunkWords := words[start:end]
		if len(chunkWords) >= c.minWords || start == 0 {
			out = append(out, Piece{
				Page:    page,
				Section: section,
				Index:   idx,
				Text:    strings.Join(chunkWords, " "),
			})
			idx++
		}
		if end == len(words) {
			break
		}
		start = end - c.overlapWords
	}
	return out
}

// isHeading reports whether a line reads like a section title: short, not
// sentence-terminated, and either markdown-marked, numbered, or set in caps.
func isHeading(line string) bool {
	if line == "" || len(line) > 80 {
		return false
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	if strings.HasPrefix(line, "#") {
		return true
	}
	if numberedHeading.MatchString(line) {
		return true
	}
	letters := 0
	uppers := 0
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			letters++
		}
		if r >= 'A' && r <= 'Z' {
			letters++
			uppers++
		}
	}
	return letters >= 3 && uppers == letters
}
