package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

func scored(t domain.EntityType, id string, ts time.Time) scoredCandidate {
	return scoredCandidate{record: domain.CandidateRecord{Type: t, ID: id, Timestamp: ts}}
}

func rankedIDs(ranked []rankedCandidate) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = string(r.record.Type) + ":" + r.record.ID
	}
	return out
}

func TestNewResultRanker_InvalidWeights(t *testing.T) {
	assert.Equal(t, ResultRanker{0.5, 0.5}, NewResultRanker(0, 0))
	assert.Equal(t, ResultRanker{0.5, 0.5}, NewResultRanker(-1, 2))
	assert.Equal(t, ResultRanker{1, 0}, NewResultRanker(1, 0))
}

func TestResultRanker_Combine(t *testing.T) {
	r := NewResultRanker(0.25, 0.75)
	c := scoredCandidate{lexical: 0.4, vector: 0.8}

	tests := []struct {
		name       string
		hasLexical bool
		hasVector  bool
		matching   bool
		score      float64
		ok         bool
	}{
		{"both", true, true, true, 0.25*0.4 + 0.75*0.8, true},
		{"lexical only", true, false, true, 0.4, true},
		{"vector only", false, true, true, 0.8, true},
		{"neither", false, false, true, 0, false},
		{"filters only", false, false, false, neutralScore, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := c
			cc.hasLexical, cc.hasVector = tt.hasLexical, tt.hasVector

			score, ok := r.Combine(cc, tt.matching)

			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.score, score, 1e-9)
		})
	}
}

func TestResultRanker_Rank(t *testing.T) {
	r := NewResultRanker(0.5, 0.5)
	d1, d2 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	withLex := func(c scoredCandidate, s float64) scoredCandidate {
		c.lexical, c.hasLexical = s, true
		return c
	}
	passes := [][]scoredCandidate{
		{withLex(scored(domain.EntityMessage, "b", d1), 0.5), withLex(scored(domain.EntityMessage, "a", d1), 0.5)},
		{withLex(scored(domain.EntityChunk, "a", d1), 0.5), withLex(scored(domain.EntityChunk, "z", d2), 1.0)},
		{scored(domain.EntityCollection, "none", d2)},
	}

	t.Run("relevance", func(t *testing.T) {
		ranked := r.Rank(passes, domain.SortRelevance, true)

		assert.Equal(t, []string{"chunk:z", "chunk:a", "message:a", "message:b"}, rankedIDs(ranked))
	})

	t.Run("date descending", func(t *testing.T) {
		ranked := r.Rank(passes, domain.SortDateDesc, true)

		assert.Equal(t, []string{"chunk:z", "chunk:a", "message:a", "message:b"}, rankedIDs(ranked))
	})

	t.Run("date ascending", func(t *testing.T) {
		ranked := r.Rank(passes, domain.SortDateAsc, true)

		assert.Equal(t, []string{"chunk:a", "message:a", "message:b", "chunk:z"}, rankedIDs(ranked))
	})

	t.Run("filters only keeps everything with a neutral score", func(t *testing.T) {
		ranked := r.Rank(passes, domain.SortRelevance, false)

		assert.Len(t, ranked, 5)
		for _, rc := range ranked {
			assert.Equal(t, neutralScore, rc.score)
		}
	})
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{1, 2}, paginate(items, 0, 2))
	assert.Equal(t, []int{5}, paginate(items, 4, 2))
	assert.Equal(t, []int{}, paginate(items, 5, 2))
	assert.Equal(t, []int{}, paginate(items, 9, 2))

	var pages []int
	for off := 0; off < len(items); off += 2 {
		pages = append(pages, paginate(items, off, 2)...)
	}
	assert.Equal(t, items, pages)
}
