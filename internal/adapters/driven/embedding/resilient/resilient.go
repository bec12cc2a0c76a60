// Package resilient wraps an embedding service with a rate limiter and a
// circuit breaker so a failing provider is not hammered by every search.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/logger"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultFailures    = 5
	DefaultOpenTimeout = 30 * time.Second
)

// Config configures the wrapper.
type Config struct {
	// RatePerSecond limits Embed calls. Zero or negative disables limiting.
	RatePerSecond float64

	// Failures is the number of consecutive failures that opens the breaker.
	Failures int

	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration
}

// EmbeddingService decorates another driven.EmbeddingService.
type EmbeddingService struct {
	next    driven.EmbeddingService
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

// New wraps next.
func New(next driven.EmbeddingService, cfg Config) *EmbeddingService {
	if cfg.Failures <= 0 {
		cfg.Failures = DefaultFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	failures := uint32(cfg.Failures) //nolint:gosec // positive, checked above

	st := gobreaker.Settings{
		Name:        "embedding:" + next.ModelName(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up says nothing about the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &EmbeddingService{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

// Embed waits for the limiter, then calls the wrapped service through the breaker.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: waiting for rate limit: %w", domain.ErrProviderTimeout, err)
	}

	out, err := s.cb.Execute(func() (any, error) {
		return s.next.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}

// State reports the breaker state.
func (s *EmbeddingService) State() gobreaker.State {
	return s.cb.State()
}

// Dimensions returns the wrapped service's vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.next.Dimensions()
}

// ModelName returns the wrapped service's model.
func (s *EmbeddingService) ModelName() string {
	return s.next.ModelName()
}

// Ping bypasses the limiter and the breaker.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// Close closes the wrapped service.
func (s *EmbeddingService) Close() error {
	return s.next.Close()
}
