package driving

import (
	"context"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// SearchService provides unified search across every entity type.
type SearchService interface {
	// Search validates the criteria, fans out across the entity types in
	// scope and returns one ranked, paginated result set.
	Search(ctx context.Context, criteria domain.SearchCriteria) (*domain.SearchResults, error)

	// SearchWithin runs the same pipeline restricted to the given references.
	// Empty criteria are allowed and keep every reference that still exists.
	SearchWithin(ctx context.Context, criteria domain.SearchCriteria, refs []domain.EntityRef) (*domain.SearchResults, error)
}
