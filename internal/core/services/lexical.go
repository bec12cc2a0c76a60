package services

import (
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// excerptWidth is the number of runes kept around the first hit.
const excerptWidth = 200

// LexicalMatcher scores text against a query by substring and keyword overlap.
// Matching is case-insensitive and deterministic; there is no stemming or
// learned ranking.
type LexicalMatcher struct{}

// Score returns the lexical relevance of text for query.
//
// An exact case-insensitive substring match scores 1.0. Otherwise the score is
// the fraction of distinct whitespace-delimited keywords found in the text.
// The second return value is false when the text does not match.
func (LexicalMatcher) Score(text, query string, mode domain.MatchMode) (float64, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0, false
	}
	t := strings.ToLower(text)

	if strings.Contains(t, q) {
		return 1.0, true
	}
	if mode == domain.MatchPhrase {
		return 0, false
	}

	keywords := Keywords(q)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			matched++
		}
	}
	if matched == 0 {
		return 0, false
	}
	if mode == domain.MatchAllWords && matched < len(keywords) {
		return 0, false
	}
	return float64(matched) / float64(len(keywords)), true
}

// Keywords splits a query into distinct lowercase keywords, in order.
func Keywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(fields))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		keywords = append(keywords, f)
	}
	return keywords
}

// Excerpt returns a snippet of text around the first occurrence of the query
// or, failing that, of its first matching keyword. Without a hit the head of
// the text is returned.
func (LexicalMatcher) Excerpt(text, query string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	q := strings.ToLower(strings.TrimSpace(query))

	hit := -1
	if q != "" {
		hit = strings.Index(lower, q)
		if hit < 0 {
			for _, kw := range Keywords(q) {
				if i := strings.Index(lower, kw); i >= 0 && (hit < 0 || i < hit) {
					hit = i
				}
			}
		}
	}
	// Lowercasing can change byte lengths outside ASCII; fall back to the head.
	if hit < 0 || len(lower) != len(text) {
		return truncate(text, 0)
	}
	return truncate(text, utf8.RuneCountInString(text[:hit]))
}

// truncate returns excerptWidth runes of text starting a little before the
// rune offset at, with ellipses where text was cut.
func truncate(text string, at int) string {
	runes := []rune(text)
	if len(runes) <= excerptWidth {
		return text
	}
	start := at - excerptWidth/4
	if start < 0 {
		start = 0
	}
	end := start + excerptWidth
	if end > len(runes) {
		end = len(runes)
		start = end - excerptWidth
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
