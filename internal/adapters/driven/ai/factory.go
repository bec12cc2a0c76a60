// Package ai provides factory functions for creating embedding service adapters.
package ai

import (
	"fmt"
	"time"

	ollamaembed "github.com/custodia-labs/carchive/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/carchive/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/carchive/internal/adapters/driven/embedding/resilient"
	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// pingTimeout bounds the connectivity and sample checks run by ConfigValidator.
const pingTimeout = 5 * time.Second

// CreateEmbeddingService creates the embedding service named by settings,
// wrapped with rate limiting and a circuit breaker.
// Returns nil if the provider is not configured.
//
// No connectivity check is made: an unreachable provider degrades searches
// instead of failing start-up.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	svc, err := createProvider(settings)
	if err != nil || svc == nil {
		return nil, err
	}
	return resilient.New(svc, resilient.Config{
		RatePerSecond: settings.RatePerSecond,
		Failures:      settings.BreakerFailures,
	}), nil
}

func createProvider(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return createOllamaEmbedding(settings), nil

	case domain.AIProviderOpenAI:
		return createOpenAIEmbedding(settings)

	default:
		return nil, fmt.Errorf("%w: embedding provider %s", domain.ErrUnsupportedType, settings.Provider)
	}
}

// createOllamaEmbedding creates an Ollama embedding service.
func createOllamaEmbedding(settings *domain.EmbeddingSettings) driven.EmbeddingService {
	dimensions := domain.EmbeddingDimensions()[settings.Model]
	if dimensions == 0 {
		dimensions = ollamaembed.DefaultDimensions
	}

	return ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Timeout:    settings.Timeout,
		Dimensions: dimensions,
	})
}

// createOpenAIEmbedding creates an OpenAI embedding service.
func createOpenAIEmbedding(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	return openaiembed.NewEmbeddingService(openaiembed.Config{
		APIKey:     settings.APIKey,
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Timeout:    settings.Timeout,
		Dimensions: domain.EmbeddingDimensions()[settings.Model],
	})
}
