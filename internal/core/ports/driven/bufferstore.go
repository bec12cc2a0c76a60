package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// BufferStore persists named result buffers.
// Each write replaces the whole buffer atomically; a reader never sees a
// half-written buffer.
type BufferStore interface {
	// Put creates or replaces the buffer with the same name.
	Put(ctx context.Context, buf *domain.Buffer) error

	// Get retrieves a buffer by name.
	// Returns domain.ErrBufferNotFound if absent. Expiry is not checked.
	Get(ctx context.Context, name string) (*domain.Buffer, error)

	// Delete removes a buffer. Returns domain.ErrBufferNotFound if absent.
	Delete(ctx context.Context, name string) error

	// DeleteExpired removes the buffer only if it has expired at now.
	// Reports whether a buffer was removed.
	DeleteExpired(ctx context.Context, name string, now time.Time) (bool, error)

	// List returns summaries of all stored buffers, newest first.
	// An empty owner lists every buffer.
	List(ctx context.Context, owner string) ([]domain.BufferSummary, error)

	// Close releases resources.
	Close() error
}
