// Package suggest proposes the closest known name for a misspelled one.
//
// It is used when a manifest or an API request refers to a Set or Pix that
// does not exist, so the error can say "did you mean ...".
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input and of every candidate. A candidate sharing at
//     least one code is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the one with the highest
//     Jaro-Winkler similarity wins, provided it reaches the phonetic
//     threshold. Without a phonetic candidate, pure Jaro-Winkler similarity
//     is tested against the stricter fuzzy threshold.
//
// Names are tokenised on whitespace, '-', '_', '.' and '/', so "2024/beach"
// and "beach-2024" share tokens.
package suggest

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for a phonetic candidate.
// Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score when no phonetic candidate
// exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Suggest returns the candidate most similar to input. ok is false when no
// candidate reaches a threshold; an exact (case-insensitive) match is never
// suggested since it is not a misspelling.
func (m *Matcher) Suggest(input string, candidates []string) (best string, score float64, ok bool) {
	inputLower := strings.ToLower(strings.TrimSpace(input))
	if inputLower == "" || len(candidates) == 0 {
		return "", 0, false
	}
	inputTokens := tokens(inputLower)
	inputCodes := codesForTokens(inputTokens)

	var phonetic bool
	for _, c := range candidates {
		cLower := strings.ToLower(strings.TrimSpace(c))
		if cLower == "" || cLower == inputLower {
			continue
		}
		cTokens := tokens(cLower)
		s := bestJWScore(inputTokens, cTokens, inputLower, cLower)

		if codesOverlap(inputCodes, codesForTokens(cTokens)) {
			if s >= m.phoneticThreshold && (!phonetic || s > score) {
				best, score, phonetic = c, s, true
			}
		} else if !phonetic && s >= m.fuzzyThreshold && s > score {
			best, score = c, s
		}
	}
	return best, score, best != ""
}

// DidYouMean formats a hint for input, or returns "" when nothing is close.
func (m *Matcher) DidYouMean(input string, candidates []string) string {
	best, _, ok := m.Suggest(input, candidates)
	if !ok {
		return ""
	}
	return "did you mean " + `"` + best + `"?`
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '-', '_', '.', '/':
			return true
		}
		return false
	})
}

// codesForTokens returns the union of Double Metaphone codes of tokens,
// without empty codes.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the maximum of the full-string, concatenated-token and best
// pairwise-token Jaro-Winkler similarities.
func bestJWScore(inputTokens, candTokens []string, inputFull, candFull string) float64 {
	score := matchr.JaroWinkler(inputFull, candFull, false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
