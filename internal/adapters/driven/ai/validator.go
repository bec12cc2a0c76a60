package ai

import (
	"context"
	"fmt"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// sampleText is embedded once to learn the vector width the model returns.
const sampleText = "carchive embedding check"

var _ driven.AIConfigValidator = (*ConfigValidator)(nil)

// ConfigValidator checks that an embedding provider is reachable and that
// its vectors have the width carchive expects for the model. A width that
// disagrees with the stored embeddings would make every vector match skip.
type ConfigValidator struct {
	newProvider func(*domain.EmbeddingSettings) (driven.EmbeddingService, error)
}

// NewConfigValidator creates a validator for the built-in providers.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{newProvider: createProvider}
}

// ValidateEmbedding pings the provider and embeds a sample text.
// Unconfigured settings are valid.
func (v *ConfigValidator) ValidateEmbedding(settings *domain.EmbeddingSettings) error {
	svc, err := v.newProvider(settings)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("%w: service unreachable (%w). Run 'carchive settings set' to fix",
			domain.ErrEmbeddingUnavailable, err)
	}

	vector, err := svc.Embed(ctx, sampleText)
	if err != nil {
		return fmt.Errorf("%w: embedding a sample failed (%w)", domain.ErrEmbeddingUnavailable, err)
	}
	if want := svc.Dimensions(); want > 0 && len(vector) != want {
		return fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
			domain.ErrDimensionMismatch, svc.ModelName(), len(vector), want)
	}
	return nil
}
