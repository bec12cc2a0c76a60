package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func collect(t *testing.T, s *EntityStore, q domain.EntityQuery) []domain.Row {
	t.Helper()
	var rows []domain.Row
	for row, err := range s.Find(context.Background(), q) {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func ids(rows []domain.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func seedMessages(t *testing.T) *EntityStore {
	t.Helper()
	s := NewEntityStore()
	ctx := context.Background()
	msgs := []domain.Row{
		{Type: domain.EntityMessage, ID: "m1", CreatedAt: day(1),
			Columns:  map[string]string{"role": "user", "content": "The quick fox"},
			MetaInfo: map[string]any{"source": "chatgpt", "turn": float64(1)}},
		{Type: domain.EntityMessage, ID: "m2", CreatedAt: day(2),
			Columns:  map[string]string{"role": "assistant", "content": "a quick brown fox"},
			MetaInfo: map[string]any{"source": "claude", "turn": float64(2)}},
		{Type: domain.EntityMessage, ID: "m3", CreatedAt: day(3),
			Columns: map[string]string{"role": "user", "content": "unrelated text"}},
		{Type: domain.EntityMessage, ID: "m0", CreatedAt: day(3),
			Columns: map[string]string{"role": "user", "content": "same day"}},
	}
	for _, m := range msgs {
		require.NoError(t, s.PutEntity(ctx, m))
	}
	return s
}

func TestEntityStore_Find_Order(t *testing.T) {
	s := seedMessages(t)

	rows := collect(t, s, domain.EntityQuery{Type: domain.EntityMessage})

	assert.Equal(t, []string{"m0", "m3", "m2", "m1"}, ids(rows))
}

func TestEntityStore_Find_Predicates(t *testing.T) {
	s := seedMessages(t)
	start, end := day(2), day(3)

	tests := []struct {
		name     string
		query    domain.EntityQuery
		expected []string
	}{
		{"ids", domain.EntityQuery{IDs: []string{"m1", "m3"}}, []string{"m3", "m1"}},
		{"date range", domain.EntityQuery{DateRange: &domain.DateRange{Start: &start, End: &end}}, []string{"m0", "m3", "m2"}},
		{"column", domain.EntityQuery{Columns: []domain.ColumnFilter{{Column: "role", Value: "assistant"}}}, []string{"m2"}},
		{"meta string", domain.EntityQuery{Meta: []domain.MetaFilter{{Key: "source", Value: "chatgpt"}}}, []string{"m1"}},
		{"meta non-string passes", domain.EntityQuery{Meta: []domain.MetaFilter{{Key: "turn", Value: "9"}}}, []string{"m2", "m1"}},
		{"keywords", domain.EntityQuery{Keywords: []string{"BROWN", "unrelated"}}, []string{"m3", "m2"}},
		{"limit", domain.EntityQuery{Limit: 2}, []string{"m0", "m3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			q.Type = domain.EntityMessage
			assert.Equal(t, tt.expected, ids(collect(t, s, q)))
		})
	}
}

func TestEntityStore_Embeddings(t *testing.T) {
	s := seedMessages(t)
	ctx := context.Background()
	ref := domain.EntityRef{Type: domain.EntityMessage, ID: "m1"}

	require.NoError(t, s.PutEmbedding(ctx, ref, "model-a", []float32{1, 0}))
	require.NoError(t, s.PutEmbedding(ctx, ref, "model-b", []float32{0, 1}))

	rows := collect(t, s, domain.EntityQuery{Type: domain.EntityMessage, IDs: []string{"m1"}, WithVectors: true, EmbeddingModel: "model-a"})
	require.Len(t, rows, 1)
	assert.Equal(t, []float32{1, 0}, rows[0].Embedding)

	rows = collect(t, s, domain.EntityQuery{Type: domain.EntityMessage, IDs: []string{"m1"}, WithVectors: true})
	assert.Equal(t, []float32{0, 1}, rows[0].Embedding, "newest of any model")

	rows = collect(t, s, domain.EntityQuery{Type: domain.EntityMessage, IDs: []string{"m1"}})
	assert.Nil(t, rows[0].Embedding, "vectors only when asked")

	rows = collect(t, s, domain.EntityQuery{Type: domain.EntityMessage, EmbeddedOnly: true})
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].ID)
	assert.Nil(t, rows[0].Embedding, "filtering does not load vectors")

	assert.Empty(t, collect(t, s, domain.EntityQuery{Type: domain.EntityMessage, EmbeddedOnly: true, EmbeddingModel: "model-c"}))

	err := s.PutEmbedding(ctx, domain.EntityRef{Type: domain.EntityCollection, ID: "c"}, "m", []float32{1})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestEntityStore_DeleteAndFailure(t *testing.T) {
	s := seedMessages(t)
	s.DeleteEntity(domain.EntityRef{Type: domain.EntityMessage, ID: "m1"})
	assert.NotContains(t, ids(collect(t, s, domain.EntityQuery{Type: domain.EntityMessage})), "m1")

	boom := errors.New("boom")
	s.FailOn = map[domain.EntityType]error{domain.EntityMessage: boom}
	for _, err := range s.Find(context.Background(), domain.EntityQuery{Type: domain.EntityMessage}) {
		assert.ErrorIs(t, err, boom)
	}
}

func TestEntityStore_PutEntity_Invalid(t *testing.T) {
	s := NewEntityStore()
	ctx := context.Background()

	assert.Error(t, s.PutEntity(ctx, domain.Row{Type: "thread", ID: "x"}))
	assert.Error(t, s.PutEntity(ctx, domain.Row{Type: domain.EntityMessage}))
}
