package domain

import "time"

// SearchResult is one hit in a result set.
type SearchResult struct {
	// EntityType is the kind of entity that matched.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the stable identifier of the entity.
	EntityID string `json:"entity_id"`

	// Score is the combined relevance in [0,1]; higher is more relevant.
	Score float64 `json:"score"`

	// Excerpt is a snippet of the matched text, if any.
	Excerpt string `json:"excerpt,omitempty"`

	// Timestamp is the entity's canonical timestamp.
	Timestamp time.Time `json:"timestamp"`

	// Metadata is a read-only copy of the entity metadata taken at query time.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ref returns the entity reference for the result.
func (r SearchResult) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// SearchResults is the envelope returned by a search.
type SearchResults struct {
	// Results is the requested page of hits, in rank order.
	Results []SearchResult `json:"results"`

	// TotalMatched counts every qualifying candidate before pagination.
	TotalMatched int `json:"total_matched"`

	// MatchedByType breaks TotalMatched down per entity type.
	MatchedByType map[EntityType]int `json:"matched_by_type"`

	// Truncated is true when an entity type hit its candidate cap.
	Truncated bool `json:"truncated,omitempty"`

	// VectorDegraded is true when the embedding provider failed and the
	// search fell back to lexical and filter matching.
	VectorDegraded bool `json:"vector_degraded,omitempty"`

	// Warnings lists non-fatal problems encountered during the search.
	Warnings []string `json:"warnings,omitempty"`

	// Criteria echoes the resolved criteria, including any computed query
	// vector, so the search can be replayed exactly.
	Criteria SearchCriteria `json:"criteria"`

	// GeneratedAt is when the results were produced.
	GeneratedAt time.Time `json:"generated_at"`
}

// Refs returns the entity references of the results, in order.
func (r *SearchResults) Refs() []EntityRef {
	refs := make([]EntityRef, len(r.Results))
	for i := range r.Results {
		refs[i] = r.Results[i].Ref()
	}
	return refs
}

// CopyMetadata returns a deep copy of a metadata map so result snapshots
// never alias live storage values.
func CopyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMetadata(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = copyValue(val[i])
		}
		return out
	default:
		return val
	}
}
