package driving

import (
	"context"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// BufferService persists named result sets between invocations.
type BufferService interface {
	// Save stores the references of results under name, replacing any
	// buffer of the same name. An empty name generates one.
	Save(ctx context.Context, name string, results *domain.SearchResults, opts domain.BufferSaveOptions) (domain.BufferHandle, error)

	// SaveRefs stores an arbitrary ordered reference set under name.
	SaveRefs(ctx context.Context, name string, refs []domain.EntityRef, opts domain.BufferSaveOptions) (domain.BufferHandle, error)

	// Load returns a buffer by name.
	// Returns domain.ErrBufferNotFound or domain.ErrBufferExpired.
	Load(ctx context.Context, name string) (*domain.Buffer, error)

	// Narrow re-resolves a buffer against current storage and applies the
	// extra criteria. The result is always a subset of the buffer.
	Narrow(ctx context.Context, name string, criteria domain.SearchCriteria) (*domain.SearchResults, error)

	// List returns unexpired buffers, newest first. An empty owner lists all.
	List(ctx context.Context, owner string) ([]domain.BufferSummary, error)

	// Delete removes a buffer. Returns domain.ErrBufferNotFound if absent.
	Delete(ctx context.Context, name string) error

	// Merge combines source buffers with a set operation into target.
	Merge(ctx context.Context, target string, op domain.BufferOp, sources []string, opts domain.BufferSaveOptions) (domain.BufferHandle, error)

	// Append adds references to the end of an existing buffer. References it
	// already holds are skipped.
	Append(ctx context.Context, name string, refs []domain.EntityRef) (domain.BufferHandle, error)

	// ToCollection writes a collection entity listing the buffer's
	// references as meta_info.members and returns the written row.
	ToCollection(ctx context.Context, name, collection, description string) (domain.Row, error)

	// Prune removes every expired buffer and returns how many were removed.
	Prune(ctx context.Context) (int, error)
}
