package services

import (
	"context"
	"iter"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// entityAdapter maps one entity type's stored rows onto candidate records.
type entityAdapter struct {
	schema domain.EntitySchema

	// text assembles the searchable text of a row.
	text func(row domain.Row) string
}

// entityAdapters is the closed mapping from entity type to adapter.
var entityAdapters = map[domain.EntityType]*entityAdapter{
	domain.EntityConversation: {
		schema: domain.EntityConversation.Schema(),
		text:   columnText("title"),
	},
	domain.EntityMessage: {
		schema: domain.EntityMessage.Schema(),
		text:   columnText("content"),
	},
	domain.EntityChunk: {
		schema: domain.EntityChunk.Schema(),
		text:   columnText("content"),
	},
	domain.EntityMedia: {
		schema: domain.EntityMedia.Schema(),
		text:   mediaText,
	},
	domain.EntityAgentOutput: {
		schema: domain.EntityAgentOutput.Schema(),
		text:   columnText("content"),
	},
	domain.EntityCollection: {
		schema: domain.EntityCollection.Schema(),
		text:   columnText("name"),
	},
}

// adapterFor returns the adapter for an entity type.
func adapterFor(t domain.EntityType) (*entityAdapter, bool) {
	a, ok := entityAdapters[t]
	return a, ok
}

func columnText(column string) func(domain.Row) string {
	return func(row domain.Row) string {
		return row.Columns[column]
	}
}

// mediaText prefers the original file name and adds the stored path when it
// carries a different base name.
func mediaText(row domain.Row) string {
	name := strings.TrimSpace(row.Columns["original_file_name"])
	path := strings.TrimSpace(row.Columns["file_path"])
	switch {
	case name == "":
		return path
	case path == "" || filepath.Base(path) == name:
		return name
	default:
		return name + "\n" + path
	}
}

// fetchPlan is what the search pass asks an adapter for.
type fetchPlan struct {
	criteria domain.SearchCriteria
	ids      []string
	cap      int
	vectors  bool
	model    string
	keywords bool

	// embeddedOnly drops rows without a stored vector before the cap applies.
	embeddedOnly bool
}

// query builds the storage predicate for a plan. Meta filters naming a
// schema column become column equality; the rest filter meta_info.
func (a *entityAdapter) query(p fetchPlan) domain.EntityQuery {
	q := domain.EntityQuery{
		Type:           a.schema.Type,
		IDs:            p.ids,
		WithVectors:    p.vectors && a.schema.Vectors,
		EmbeddingModel: p.model,
		EmbeddedOnly:   p.vectors && p.embeddedOnly,
	}
	if !p.criteria.DateRange.IsZero() {
		dr := *p.criteria.DateRange
		q.DateRange = &dr
	}
	for _, f := range p.criteria.MetaFilters {
		if a.schema.HasColumn(f.Key) {
			q.Columns = append(q.Columns, domain.ColumnFilter{Column: f.Key, Value: f.Value})
			continue
		}
		q.Meta = append(q.Meta, f)
	}
	if p.keywords {
		q.Keywords = asciiKeywords(p.criteria.TextQuery)
	}
	if p.cap > 0 {
		// One extra row tells the caller the cap was hit.
		q.Limit = p.cap + 1
	}
	return q
}

// asciiKeywords returns the query keywords for storage pre-filtering, or nil
// when any keyword is non-ASCII. Storage case folding is ASCII-only.
func asciiKeywords(query string) []string {
	keywords := Keywords(query)
	for _, kw := range keywords {
		for i := 0; i < len(kw); i++ {
			if kw[i] >= 0x80 {
				return nil
			}
		}
	}
	return keywords
}

// matches re-checks the filters that storage may only approximate.
func (a *entityAdapter) matches(row domain.Row, c domain.SearchCriteria) bool {
	if !c.DateRange.Contains(row.CreatedAt) {
		return false
	}
	for _, f := range c.MetaFilters {
		if a.schema.HasColumn(f.Key) {
			if row.Columns[f.Key] != f.Value {
				return false
			}
			continue
		}
		v, ok := row.MetaInfo[f.Key]
		if !ok || domain.MetaValueString(v) != f.Value {
			return false
		}
	}
	return true
}

// candidate normalises a row. Metadata carries meta_info plus the data
// columns, except long content columns; columns win on key collisions.
func (a *entityAdapter) candidate(row domain.Row) domain.CandidateRecord {
	meta := domain.CopyMetadata(row.MetaInfo)
	if meta == nil {
		meta = make(map[string]any, len(row.Columns))
	}
	for _, col := range a.schema.Columns {
		if col == "content" {
			continue
		}
		if v, ok := row.Columns[col]; ok && v != "" {
			meta[col] = v
		}
	}
	return domain.CandidateRecord{
		Type:      a.schema.Type,
		ID:        row.ID,
		Text:      a.text(row),
		Vector:    row.Embedding,
		Timestamp: row.CreatedAt,
		Metadata:  meta,
	}
}

// FetchCandidates yields normalised candidates that pass the criteria filters.
// Rows beyond the plan's cap are not yielded; truncated reports whether the
// cap was hit once the sequence is exhausted.
func (a *entityAdapter) FetchCandidates(
	ctx context.Context, store driven.EntityStore, p fetchPlan, truncated *bool,
) iter.Seq2[domain.CandidateRecord, error] {
	return func(yield func(domain.CandidateRecord, error) bool) {
		fetched := 0
		for row, err := range store.Find(ctx, a.query(p)) {
			if err != nil {
				yield(domain.CandidateRecord{}, err)
				return
			}
			if p.cap > 0 && fetched == p.cap {
				*truncated = true
				return
			}
			fetched++
			if !a.matches(row, p.criteria) {
				continue
			}
			if !yield(a.candidate(row), nil) {
				return
			}
		}
	}
}
