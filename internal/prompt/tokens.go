package prompt

import "strings"

// wordToTokenRatio is the deterministic words-per-token estimate used when a
// real tokenizer is not available. One word is roughly 1.33 tokens for the
// model families this gateway fronts.
const wordToTokenRatio = 0.75

// EstimateTokens returns a deterministic token estimate for text based on a
// whitespace word count. It never consults the backend, so identical input
// always yields the identical estimate.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	tokens := int(float64(words)/wordToTokenRatio + 0.5)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
