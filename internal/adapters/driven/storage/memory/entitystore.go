package memory

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// Ensure EntityStore implements the interfaces.
var (
	_ driven.EntityStore  = (*EntityStore)(nil)
	_ driven.EntityWriter = (*EntityStore)(nil)
)

type storedEmbedding struct {
	model     string
	vector    []float32
	createdAt time.Time
}

// EntityStore is an in-memory implementation of driven.EntityStore for testing.
// It applies the same predicates the SQL stores push down.
type EntityStore struct {
	mu         sync.RWMutex
	rows       map[domain.EntityType]map[string]domain.Row
	embeddings map[domain.EntityRef][]storedEmbedding
	now        func() time.Time

	// FailOn makes Find fail for the given entity type.
	FailOn map[domain.EntityType]error
}

// NewEntityStore creates a new in-memory entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		rows:       make(map[domain.EntityType]map[string]domain.Row),
		embeddings: make(map[domain.EntityRef][]storedEmbedding),
		now:        time.Now,
	}
}

// PutEntity inserts or replaces one entity row.
func (s *EntityStore) PutEntity(_ context.Context, row domain.Row) error {
	if !row.Type.IsValid() {
		return fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidInput, row.Type)
	}
	if row.ID == "" {
		return fmt.Errorf("%w: entity id is required", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[row.Type] == nil {
		s.rows[row.Type] = make(map[string]domain.Row)
	}
	stored := row
	stored.Columns = copyColumns(row.Columns)
	stored.MetaInfo = domain.CopyMetadata(row.MetaInfo)
	stored.Embedding = nil
	s.rows[row.Type][row.ID] = stored
	if len(row.Embedding) > 0 {
		s.putEmbedding(row.Ref(), "", row.Embedding)
	}
	return nil
}

// PutEmbedding stores a vector for an entity under the given model name.
func (s *EntityStore) PutEmbedding(_ context.Context, ref domain.EntityRef, model string, vector []float32) error {
	if !ref.Type.Schema().Vectors {
		return fmt.Errorf("%w: %s does not store embeddings", domain.ErrInvalidInput, ref.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putEmbedding(ref, model, vector)
	return nil
}

func (s *EntityStore) putEmbedding(ref domain.EntityRef, model string, vector []float32) {
	s.embeddings[ref] = append(s.embeddings[ref], storedEmbedding{
		model:     model,
		vector:    slices.Clone(vector),
		createdAt: s.now(),
	})
}

// DeleteEntity removes an entity and its embeddings.
func (s *EntityStore) DeleteEntity(ref domain.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[ref.Type], ref.ID)
	delete(s.embeddings, ref)
}

// Find yields matching rows newest first, ties broken by id.
func (s *EntityStore) Find(_ context.Context, q domain.EntityQuery) iter.Seq2[domain.Row, error] {
	return func(yield func(domain.Row, error) bool) {
		if err := s.FailOn[q.Type]; err != nil {
			yield(domain.Row{}, err)
			return
		}

		rows := s.match(q)
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (s *EntityStore) match(q domain.EntityQuery) []domain.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]bool
	if len(q.IDs) > 0 {
		ids = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			ids[id] = true
		}
	}
	schema := q.Type.Schema()

	var out []domain.Row
	for id, row := range s.rows[q.Type] {
		if ids != nil && !ids[id] {
			continue
		}
		if !q.DateRange.Contains(row.CreatedAt) {
			continue
		}
		if !matchColumns(row, q.Columns) || !matchMeta(row, q.Meta) {
			continue
		}
		if len(q.Keywords) > 0 && !matchKeywords(row, schema.TextColumns, q.Keywords) {
			continue
		}
		var vector []float32
		if q.WithVectors || q.EmbeddedOnly {
			vector = s.newestEmbedding(row.Ref(), q.EmbeddingModel)
		}
		if q.EmbeddedOnly && vector == nil {
			continue
		}
		r := row
		r.Columns = copyColumns(row.Columns)
		r.MetaInfo = domain.CopyMetadata(row.MetaInfo)
		if q.WithVectors {
			r.Embedding = vector
		}
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b domain.Row) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (s *EntityStore) newestEmbedding(ref domain.EntityRef, model string) []float32 {
	var best *storedEmbedding
	for i, e := range s.embeddings[ref] {
		if model != "" && e.model != model {
			continue
		}
		// Later writes win ties on timestamp.
		if best == nil || !e.createdAt.Before(best.createdAt) {
			best = &s.embeddings[ref][i]
		}
	}
	if best == nil {
		return nil
	}
	return slices.Clone(best.vector)
}

// Close releases resources.
func (s *EntityStore) Close() error {
	return nil
}

func matchColumns(row domain.Row, filters []domain.ColumnFilter) bool {
	for _, f := range filters {
		if row.Columns[f.Column] != f.Value {
			return false
		}
	}
	return true
}

// matchMeta narrows on string values only, like the SQL stores.
func matchMeta(row domain.Row, filters []domain.MetaFilter) bool {
	for _, f := range filters {
		v, ok := row.MetaInfo[f.Key]
		if !ok {
			return false
		}
		if str, isString := v.(string); isString && str != f.Value {
			return false
		}
	}
	return true
}

func matchKeywords(row domain.Row, columns, keywords []string) bool {
	for _, col := range columns {
		text := strings.ToLower(row.Columns[col])
		for _, kw := range keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func copyColumns(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
