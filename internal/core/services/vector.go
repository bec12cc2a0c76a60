package services

import (
	"math"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// VectorMatcher scores stored vectors against a query vector by cosine distance.
type VectorMatcher struct{}

// Score returns 1 - d where d is the cosine distance between the candidate's
// vector and query. A candidate matches when d <= threshold; the boundary is
// inclusive. A length difference returns *domain.DimensionMismatchError and a
// zero vector never matches.
func (VectorMatcher) Score(candidate domain.CandidateRecord, query []float32, threshold float64) (float64, bool, error) {
	if len(candidate.Vector) != len(query) {
		return 0, false, &domain.DimensionMismatchError{
			EntityType: candidate.Type,
			EntityID:   candidate.ID,
			Want:       len(query),
			Got:        len(candidate.Vector),
		}
	}
	d := CosineDistance(candidate.Vector, query)
	if math.IsNaN(d) || d > threshold {
		return 0, false, nil
	}
	return clamp01(1 - d), true, nil
}

// CosineDistance returns 1 - cos(a, b) for vectors of equal length.
// The result is NaN when either vector has zero norm.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
