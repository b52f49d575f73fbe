// Package token estimates token counts for budget decisions.
//
// Retrieval and prompt composition need a cheap way to decide how much
// text fits a model's context window before any model call happens. An
// Estimator abstracts that decision so a provider-exact tokenizer can
// replace the heuristic without touching call sites.
package token

import "unicode/utf8"

// Estimator reports an approximate token count for a piece of text.
// Implementations must be safe for concurrent use.
type Estimator interface {
	Estimate(text string) int
}

// DefaultCharsPerToken approximates English prose, where a token covers
// roughly four characters. CJK-heavy text runs closer to 1-2 characters
// per token; callers handling such text should lower the ratio.
const DefaultCharsPerToken = 4

// Heuristic estimates tokens by dividing the rune count by a fixed
// characters-per-token ratio, rounding up. It never under-counts a
// non-empty string to zero.
type Heuristic struct {
	// CharsPerToken is the divisor. Values below 1 fall back to
	// DefaultCharsPerToken.
	CharsPerToken int
}

// Estimate returns ceil(runes/CharsPerToken). The empty string costs
// zero tokens.
func (h Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}

	cpt := h.CharsPerToken
	if cpt < 1 {
		cpt = DefaultCharsPerToken
	}

	runeCount := utf8.RuneCountInString(text)
	return (runeCount + cpt - 1) / cpt
}
