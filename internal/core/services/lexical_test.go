package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

func TestLexicalMatcher_Score(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		query   string
		mode    domain.MatchMode
		score   float64
		matched bool
	}{
		{"substring", "The Quick Brown Fox", "quick brown", domain.MatchAnyWord, 1.0, true},
		{"partial keywords", "a quick fox", "quick brown", domain.MatchAnyWord, 0.5, true},
		{"no keywords", "a lazy dog", "quick brown", domain.MatchAnyWord, 0, false},
		{"duplicate keywords counted once", "fox", "fox fox cat", domain.MatchAnyWord, 0.5, true},
		{"all words satisfied", "brown is the quick one", "quick brown", domain.MatchAllWords, 1.0, true},
		{"all words missing one", "a quick fox", "quick brown", domain.MatchAllWords, 0, false},
		{"phrase", "the quick brown fox", "quick brown", domain.MatchPhrase, 1.0, true},
		{"phrase out of order", "brown quick", "quick brown", domain.MatchPhrase, 0, false},
		{"blank query", "anything", "   ", domain.MatchAnyWord, 0, false},
		{"unicode case folding", "ÜBER alles", "über", domain.MatchAnyWord, 1.0, true},
	}

	var m LexicalMatcher
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ok := m.Score(tt.text, tt.query, tt.mode)

			assert.Equal(t, tt.matched, ok)
			assert.InDelta(t, tt.score, score, 1e-9)
		})
	}
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"quick", "brown", "fox"}, Keywords("  Quick brown\tQUICK fox "))
	assert.Empty(t, Keywords("   "))
}

func TestLexicalMatcher_Excerpt(t *testing.T) {
	var m LexicalMatcher

	t.Run("short text is returned whole", func(t *testing.T) {
		assert.Equal(t, "a quick fox", m.Excerpt("  a quick fox  ", "fox"))
	})

	t.Run("long text is cut around the hit", func(t *testing.T) {
		text := strings.Repeat("lorem ", 100) + "needle " + strings.Repeat("ipsum ", 100)

		excerpt := m.Excerpt(text, "NEEDLE")

		assert.Contains(t, excerpt, "needle")
		assert.True(t, strings.HasPrefix(excerpt, "..."))
		assert.True(t, strings.HasSuffix(excerpt, "..."))
		assert.LessOrEqual(t, len([]rune(excerpt)), excerptWidth+6)
	})

	t.Run("keyword hit when query is not a substring", func(t *testing.T) {
		text := strings.Repeat("x ", 200) + "fox"

		assert.Contains(t, m.Excerpt(text, "brown fox"), "fox")
	})

	t.Run("no hit falls back to the head", func(t *testing.T) {
		text := strings.Repeat("abc ", 100)

		excerpt := m.Excerpt(text, "zzz")

		assert.False(t, strings.HasPrefix(excerpt, "..."))
		assert.True(t, strings.HasSuffix(excerpt, "..."))
	})

	t.Run("empty text", func(t *testing.T) {
		assert.Empty(t, m.Excerpt("   ", "fox"))
	})
}
