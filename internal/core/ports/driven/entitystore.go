package driven

import (
	"context"
	"iter"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// EntityStore reads stored entities by predicate.
// Implementations push every populated EntityQuery field down to storage.
type EntityStore interface {
	// Find yields the rows of one entity type that satisfy the query, newest
	// first with ties broken by id. The sequence stops at the first error.
	// At most q.Limit rows are yielded when q.Limit is positive.
	Find(ctx context.Context, q domain.EntityQuery) iter.Seq2[domain.Row, error]

	// Close releases resources.
	Close() error
}

// EntityWriter loads entities and their embeddings.
// It is only used by bulk ingest and tests; the search core never writes.
type EntityWriter interface {
	// PutEntity inserts or replaces one entity row.
	PutEntity(ctx context.Context, row domain.Row) error

	// PutEmbedding stores a vector for an entity under the given model name.
	PutEmbedding(ctx context.Context, ref domain.EntityRef, model string, vector []float32) error
}
