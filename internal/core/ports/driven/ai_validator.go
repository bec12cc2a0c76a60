package driven

import "github.com/custodia-labs/carchive/internal/core/domain"

// AIConfigValidator checks embedding settings before they are saved.
type AIConfigValidator interface {
	// ValidateEmbedding reports whether the configured provider answers and
	// returns vectors of the width expected for its model. Unconfigured
	// settings are valid. Failures wrap domain.ErrEmbeddingUnavailable or
	// domain.ErrDimensionMismatch.
	ValidateEmbedding(config *domain.EmbeddingSettings) error
}
