// Package embedding holds helpers shared by the embedding provider adapters.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// ProviderError wraps a failed provider call in domain.ErrProviderTimeout when
// the call ran out of time and domain.ErrProviderUnavailable otherwise.
func ProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrProviderTimeout) || errors.Is(err, domain.ErrProviderUnavailable) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", domain.ErrProviderTimeout, provider, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrProviderUnavailable, provider, err)
}

// StatusError describes a non-200 reply from a provider.
func StatusError(provider string, status int, body []byte) error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return fmt.Errorf("%w: %s returned status %d: %s", domain.ErrProviderUnavailable, provider, status, body)
}

// ToFloat32 narrows a decoded JSON vector.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
