package chunker

import (
	"strings"
	"testing"

	"github.com/edgeai/rag-gateway/pkg/config"
)

func testChunker(maxWords, overlap, minWords int) *Chunker {
	return New(config.IngestConfig{
		ChunkMaxWords:     maxWords,
		ChunkOverlapWords: overlap,
		MinChunkWords:     minWords,
	})
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ")
}

func TestChunkTracksSections(t *testing.T) {
	c := testChunker(100, 0, 1)
	text := "# Introduction\n" + words(20) + "\n\n2. Termination\n" + words(20)

	pieces := c.Chunk(text)
	if len(pieces) != 2 {
		t.Fatalf("pieces = %d, want 2", len(pieces))
	}
	if pieces[0].Section != "# Introduction" {
		t.Fatalf("first section = %q", pieces[0].Section)
	}
	if pieces[1].Section != "2. Termination" {
		t.Fatalf("second section = %q", pieces[1].Section)
	}
}

func TestChunkDetectsCapsHeadings(t *testing.T) {
	c := testChunker(100, 0, 1)
	pieces := c.Chunk("GOVERNING LAW\n" + words(10))
	if len(pieces) != 1 {
		t.Fatalf("pieces = %d, want 1", len(pieces))
	}
	if pieces[0].Section != "GOVERNING LAW" {
		t.Fatalf("section = %q, want GOVERNING LAW", pieces[0].Section)
	}
}

func TestChunkAdvancesPagesOnFormFeed(t *testing.T) {
	c := testChunker(100, 0, 1)
	pieces := c.Chunk(words(10) + "\f\n" + words(10))
	if len(pieces) != 2 {
		t.Fatalf("pieces = %d, want 2", len(pieces))
	}
	if pieces[0].Page != 1 || pieces[1].Page != 2 {
		t.Fatalf("pages = %d, %d, want 1, 2", pieces[0].Page, pieces[1].Page)
	}
}

func TestChunkSplitsWithOverlap(t *testing.T) {
	c := testChunker(50, 10, 1)
	// 90 distinct words so overlap can be checked by identity.
	src := make([]string, 90)
	for i := range src {
		src[i] = "w" + strings.Repeat("x", i%7) // small vocabulary, positional
	}
	for i := range src {
		src[i] = src[i] + "-" + string(rune('a'+i%26))
	}
	pieces := c.Chunk(strings.Join(src, " "))

	if len(pieces) != 2 {
		t.Fatalf("pieces = %d, want 2", len(pieces))
	}
	first := strings.Fields(pieces[0].Text)
	second := strings.Fields(pieces[1].Text)
	if len(first) != 50 {
		t.Fatalf("first chunk words = %d, want 50", len(first))
	}
	// Second chunk starts 10 words back into the first.
	if got, want := second[0], first[40]; got != want {
		t.Fatalf("overlap start = %q, want %q", got, want)
	}
	if got, want := second[9], first[49]; got != want {
		t.Fatalf("overlap end = %q, want %q", got, want)
	}
}

func TestChunkDropsFragmentsBelowMinWords(t *testing.T) {
	c := testChunker(100, 0, 30)
	pieces := c.Chunk("# Heading\n" + words(5) + "\n\n# Next\n" + words(40))
	if len(pieces) != 1 {
		t.Fatalf("pieces = %d, want 1 (short section dropped)", len(pieces))
	}
	if got := len(strings.Fields(pieces[0].Text)); got != 40 {
		t.Fatalf("kept chunk words = %d, want 40", got)
	}
}

func TestChunkIndexesAreSequential(t *testing.T) {
	c := testChunker(20, 0, 1)
	pieces := c.Chunk(words(70))
	if len(pieces) != 4 {
		t.Fatalf("pieces = %d, want 4", len(pieces))
	}
	for i, p := range pieces {
		if p.Index != i {
			t.Fatalf("piece %d has index %d", i, p.Index)
		}
	}
}

func TestChunkEmptyText(t *testing.T) {
	c := testChunker(100, 0, 1)
	if pieces := c.Chunk("   \n\n  "); len(pieces) != 0 {
		t.Fatalf("pieces = %d, want 0", len(pieces))
	}
}
