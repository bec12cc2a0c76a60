package services

import (
	"cmp"
	"slices"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// neutralScore is given to candidates when only filters are active.
const neutralScore = 1.0

// scoredCandidate is a candidate with the scores of the matchers that ran.
type scoredCandidate struct {
	record     domain.CandidateRecord
	lexical    float64
	hasLexical bool
	vector     float64
	hasVector  bool
	excerpt    string
}

// rankedCandidate is a candidate with its combined score.
type rankedCandidate struct {
	scoredCandidate
	score float64
}

// ResultRanker combines matcher scores and orders candidates from every entity type.
type ResultRanker struct {
	LexicalWeight float64
	VectorWeight  float64
}

// NewResultRanker creates a ranker with the given blend weights.
// Non-positive totals fall back to an even blend.
func NewResultRanker(lexicalWeight, vectorWeight float64) ResultRanker {
	if lexicalWeight < 0 || vectorWeight < 0 || lexicalWeight+vectorWeight <= 0 {
		return ResultRanker{LexicalWeight: 0.5, VectorWeight: 0.5}
	}
	return ResultRanker{LexicalWeight: lexicalWeight, VectorWeight: vectorWeight}
}

// Combine returns the combined score of a candidate. When matching is active
// a candidate without any score does not qualify; when only filters are
// active every candidate scores neutralScore.
func (r ResultRanker) Combine(c scoredCandidate, matching bool) (float64, bool) {
	if !matching {
		return neutralScore, true
	}
	switch {
	case c.hasLexical && c.hasVector:
		return (r.LexicalWeight*c.lexical + r.VectorWeight*c.vector) / (r.LexicalWeight + r.VectorWeight), true
	case c.hasLexical:
		return c.lexical, true
	case c.hasVector:
		return c.vector, true
	default:
		return 0, false
	}
}

// Rank merges the per-type candidate lists and sorts them.
// The returned slice holds every qualifying candidate; pagination is left to the caller.
func (r ResultRanker) Rank(passes [][]scoredCandidate, order domain.SortOrder, matching bool) []rankedCandidate {
	total := 0
	for _, p := range passes {
		total += len(p)
	}
	ranked := make([]rankedCandidate, 0, total)
	for _, p := range passes {
		for _, c := range p {
			score, ok := r.Combine(c, matching)
			if !ok {
				continue
			}
			ranked = append(ranked, rankedCandidate{scoredCandidate: c, score: score})
		}
	}

	slices.SortStableFunc(ranked, func(a, b rankedCandidate) int {
		switch order {
		case domain.SortDateAsc:
			if c := a.record.Timestamp.Compare(b.record.Timestamp); c != 0 {
				return c
			}
		case domain.SortDateDesc:
			if c := b.record.Timestamp.Compare(a.record.Timestamp); c != 0 {
				return c
			}
		default:
			if c := cmp.Compare(b.score, a.score); c != 0 {
				return c
			}
			if c := b.record.Timestamp.Compare(a.record.Timestamp); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.record.ID, b.record.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.record.Type, b.record.Type)
	})
	return ranked
}

// paginate applies offset and limit to ranked results.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
