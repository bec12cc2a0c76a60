package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carchive/internal/core/domain"
)

// testClock is a settable clock shared by the services under test.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func newTestBufferService(t *testing.T, defaultTTL time.Duration) (*BufferService, *SearchService, *testClock) {
	t.Helper()
	clock := &testClock{t: date(2024, 5, 1)}
	search := newTestSearchService(seedArchive(t), nil)
	search.now = clock.now
	buffers := NewBufferService(memory.NewBufferStore(), search, defaultTTL)
	buffers.now = clock.now
	return buffers, search, clock
}

func msgRefs(ids ...string) []domain.EntityRef {
	refs := make([]domain.EntityRef, len(ids))
	for i, id := range ids {
		refs[i] = domain.EntityRef{Type: domain.EntityMessage, ID: id}
	}
	return refs
}

func refIDs(refs []domain.EntityRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func TestBufferService_SaveAndNarrow(t *testing.T) {
	buffers, search, _ := newTestBufferService(t, 0)
	ctx := context.Background()

	results, err := search.Search(ctx, domain.SearchCriteria{
		TextQuery:   "quick",
		EntityTypes: []domain.EntityType{domain.EntityMessage},
		SortOrder:   domain.SortDateDesc,
	})
	require.NoError(t, err)

	handle, err := buffers.Save(ctx, "recent", results, domain.BufferSaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recent", handle.Name)
	assert.Equal(t, 2, handle.Count)
	assert.Nil(t, handle.ExpiresAt)

	narrowed, err := buffers.Narrow(ctx, "recent", domain.SearchCriteria{TextQuery: "fox"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, resultIDs(narrowed))

	narrowed, err = buffers.Narrow(ctx, "recent", domain.SearchCriteria{TextQuery: "brown"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, resultIDs(narrowed))

	buf, err := buffers.Load(ctx, "recent")
	require.NoError(t, err)
	require.NotNil(t, buf.Criteria)
	assert.Equal(t, "quick", buf.Criteria.TextQuery)
}

func TestBufferService_Narrow_DropsDeletedEntities(t *testing.T) {
	clock := &testClock{t: date(2024, 5, 1)}
	store := seedArchive(t)
	search := newTestSearchService(store, nil)
	buffers := NewBufferService(memory.NewBufferStore(), search, 0)
	buffers.now = clock.now
	ctx := context.Background()

	_, err := buffers.SaveRefs(ctx, "b", msgRefs("m1", "m2"), domain.BufferSaveOptions{})
	require.NoError(t, err)
	store.DeleteEntity(domain.EntityRef{Type: domain.EntityMessage, ID: "m1"})

	narrowed, err := buffers.Narrow(ctx, "b", domain.SearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, resultIDs(narrowed))
}

func TestBufferService_Narrow_EmptyBuffer(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()
	_, err := buffers.SaveRefs(ctx, "empty", nil, domain.BufferSaveOptions{})
	require.NoError(t, err)

	narrowed, err := buffers.Narrow(ctx, "empty", domain.SearchCriteria{TextQuery: "fox"})

	require.NoError(t, err)
	assert.Empty(t, narrowed.Results)
	assert.Zero(t, narrowed.TotalMatched)
}

func TestBufferService_Save_Names(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()

	handle, err := buffers.SaveRefs(ctx, "", msgRefs("m1"), domain.BufferSaveOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle.Name, "buf-"))
	assert.Len(t, handle.Name, len("buf-")+8)

	for _, bad := range []string{"-leading", "has space", "a/b", strings.Repeat("x", 129)} {
		_, err := buffers.SaveRefs(ctx, bad, msgRefs("m1"), domain.BufferSaveOptions{})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), bad)
	}
}

func TestBufferService_Save_Invalid(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()

	_, err := buffers.Save(ctx, "b", nil, domain.BufferSaveOptions{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = buffers.SaveRefs(ctx, "b", []domain.EntityRef{{Type: "thread", ID: "x"}}, domain.BufferSaveOptions{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = buffers.SaveRefs(ctx, "b", msgRefs("m1"), domain.BufferSaveOptions{TTL: -time.Second})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestBufferService_Save_DedupesAndOverwrites(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()

	handle, err := buffers.SaveRefs(ctx, "b", msgRefs("m2", "m1", "m2"), domain.BufferSaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, handle.Count)

	_, err = buffers.SaveRefs(ctx, "b", msgRefs("m3"), domain.BufferSaveOptions{Description: "second"})
	require.NoError(t, err)

	buf, err := buffers.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, refIDs(buf.Refs))
	assert.Equal(t, "second", buf.Description)
}

func TestBufferService_Expiry(t *testing.T) {
	buffers, _, clock := newTestBufferService(t, 0)
	ctx := context.Background()

	handle, err := buffers.SaveRefs(ctx, "short", msgRefs("m1"), domain.BufferSaveOptions{TTL: time.Hour})
	require.NoError(t, err)
	require.NotNil(t, handle.ExpiresAt)
	_, err = buffers.SaveRefs(ctx, "forever", msgRefs("m2"), domain.BufferSaveOptions{})
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)

	list, err := buffers.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "forever", list[0].Name)

	_, err = buffers.Load(ctx, "short")
	assert.True(t, errors.Is(err, domain.ErrBufferExpired))

	// The expired read removed the buffer.
	_, err = buffers.Load(ctx, "short")
	assert.True(t, errors.Is(err, domain.ErrBufferNotFound))

	_, err = buffers.Narrow(ctx, "short", domain.SearchCriteria{})
	assert.True(t, errors.Is(err, domain.ErrBufferNotFound))
}

func TestBufferService_DefaultTTL(t *testing.T) {
	buffers, _, clock := newTestBufferService(t, 24*time.Hour)
	ctx := context.Background()

	handle, err := buffers.SaveRefs(ctx, "b", msgRefs("m1"), domain.BufferSaveOptions{})

	require.NoError(t, err)
	require.NotNil(t, handle.ExpiresAt)
	assert.Equal(t, clock.t.Add(24*time.Hour), *handle.ExpiresAt)
}

func TestBufferService_ListByOwner(t *testing.T) {
	buffers, _, clock := newTestBufferService(t, 0)
	ctx := context.Background()

	_, err := buffers.SaveRefs(ctx, "a", msgRefs("m1"), domain.BufferSaveOptions{Owner: "alice"})
	require.NoError(t, err)
	clock.t = clock.t.Add(time.Minute)
	_, err = buffers.SaveRefs(ctx, "b", msgRefs("m1"), domain.BufferSaveOptions{Owner: "bob"})
	require.NoError(t, err)

	all, err := buffers.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name)

	mine, err := buffers.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].Name)
}

func TestBufferService_Delete(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()
	_, err := buffers.SaveRefs(ctx, "b", msgRefs("m1"), domain.BufferSaveOptions{})
	require.NoError(t, err)

	require.NoError(t, buffers.Delete(ctx, "b"))

	assert.True(t, errors.Is(buffers.Delete(ctx, "b"), domain.ErrBufferNotFound))
	_, err = buffers.Load(ctx, "b")
	assert.True(t, errors.Is(err, domain.ErrBufferNotFound))
}

func TestBufferService_Merge(t *testing.T) {
	tests := []struct {
		name     string
		op       domain.BufferOp
		expected []string
	}{
		{"union", domain.BufferUnion, []string{"m1", "m2", "m3"}},
		{"intersect", domain.BufferIntersect, []string{"m2"}},
		{"difference", domain.BufferDifference, []string{"m1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffers, _, _ := newTestBufferService(t, 0)
			ctx := context.Background()
			_, err := buffers.SaveRefs(ctx, "left", msgRefs("m1", "m2"), domain.BufferSaveOptions{})
			require.NoError(t, err)
			_, err = buffers.SaveRefs(ctx, "right", msgRefs("m3", "m2"), domain.BufferSaveOptions{})
			require.NoError(t, err)

			handle, err := buffers.Merge(ctx, "out", tt.op, []string{"left", "right"}, domain.BufferSaveOptions{})
			require.NoError(t, err)
			assert.Equal(t, len(tt.expected), handle.Count)

			buf, err := buffers.Load(ctx, "out")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, refIDs(buf.Refs))
			assert.Equal(t, string(tt.op)+" of left, right", buf.Description)
		})
	}
}

func TestBufferService_Merge_Invalid(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()

	_, err := buffers.Merge(ctx, "out", "xor", []string{"a"}, domain.BufferSaveOptions{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = buffers.Merge(ctx, "out", domain.BufferUnion, nil, domain.BufferSaveOptions{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = buffers.Merge(ctx, "out", domain.BufferUnion, []string{"missing"}, domain.BufferSaveOptions{})
	assert.True(t, errors.Is(err, domain.ErrBufferNotFound))
}

func TestBufferService_Prune(t *testing.T) {
	buffers, _, clock := newTestBufferService(t, 0)
	ctx := context.Background()
	_, err := buffers.SaveRefs(ctx, "a", msgRefs("m1"), domain.BufferSaveOptions{TTL: time.Minute})
	require.NoError(t, err)
	_, err = buffers.SaveRefs(ctx, "b", msgRefs("m1"), domain.BufferSaveOptions{TTL: time.Hour})
	require.NoError(t, err)
	_, err = buffers.SaveRefs(ctx, "c", msgRefs("m1"), domain.BufferSaveOptions{})
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Minute)

	removed, err := buffers.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := buffers.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBufferService_Append(t *testing.T) {
	buffers, _, clock := newTestBufferService(t, 0)
	ctx := context.Background()
	saved, err := buffers.SaveRefs(ctx, "b", msgRefs("m1", "m2"),
		domain.BufferSaveOptions{TTL: time.Hour, Owner: "alice", Description: "first pass"})
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	handle, err := buffers.Append(ctx, "b", msgRefs("m2", "m3"))
	require.NoError(t, err)
	assert.Equal(t, 3, handle.Count)
	require.NotNil(t, handle.ExpiresAt)
	assert.True(t, saved.ExpiresAt.Equal(*handle.ExpiresAt), "expiry is kept")

	buf, err := buffers.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, refIDs(buf.Refs))
	assert.Equal(t, "alice", buf.Owner)
	assert.Equal(t, "first pass", buf.Description)
	assert.Nil(t, buf.Criteria)
}

func TestBufferService_Append_Errors(t *testing.T) {
	buffers, _, clock := newTestBufferService(t, 0)
	ctx := context.Background()

	_, err := buffers.Append(ctx, "missing", msgRefs("m1"))
	assert.True(t, errors.Is(err, domain.ErrBufferNotFound))

	_, err = buffers.Append(ctx, "missing", []domain.EntityRef{{Type: "note", ID: "n1"}})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = buffers.SaveRefs(ctx, "short", msgRefs("m1"), domain.BufferSaveOptions{TTL: time.Minute})
	require.NoError(t, err)
	clock.t = clock.t.Add(time.Hour)
	_, err = buffers.Append(ctx, "short", msgRefs("m2"))
	assert.True(t, errors.Is(err, domain.ErrBufferExpired))
}

func TestBufferService_ToCollection(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	writer := memory.NewEntityStore()
	buffers.SetEntityWriter(writer)
	ctx := context.Background()
	refs := []domain.EntityRef{{Type: domain.EntityMessage, ID: "m2"}, {Type: domain.EntityChunk, ID: "c1"}}
	_, err := buffers.SaveRefs(ctx, "foxes", refs, domain.BufferSaveOptions{})
	require.NoError(t, err)

	row, err := buffers.ToCollection(ctx, "foxes", "Fox notes", "for the write-up")
	require.NoError(t, err)
	assert.Equal(t, domain.EntityCollection, row.Type)
	assert.Equal(t, "Fox notes", row.Columns["name"])
	assert.Equal(t, []string{"message:m2", "chunk:c1"}, row.MetaInfo["members"])
	assert.Equal(t, "foxes", row.MetaInfo["source_buffer"])
	assert.Equal(t, "for the write-up", row.MetaInfo["description"])

	again, err := buffers.ToCollection(ctx, "foxes", "Fox notes", "")
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID, "same collection name gives the same id")

	var stored []domain.Row
	for r, err := range writer.Find(ctx, domain.EntityQuery{Type: domain.EntityCollection}) {
		require.NoError(t, err)
		stored = append(stored, r)
	}
	require.Len(t, stored, 1)
	assert.Equal(t, "Fox notes", stored[0].Columns["name"])
	assert.NotContains(t, stored[0].MetaInfo, "description")

	_, err = buffers.Load(ctx, "foxes")
	assert.NoError(t, err, "the buffer is kept")
}

func TestBufferService_ToCollection_Errors(t *testing.T) {
	buffers, _, _ := newTestBufferService(t, 0)
	ctx := context.Background()
	_, err := buffers.SaveRefs(ctx, "b", msgRefs("m1"), domain.BufferSaveOptions{})
	require.NoError(t, err)

	_, err = buffers.ToCollection(ctx, "b", "notes", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "no writer")

	buffers.SetEntityWriter(memory.NewEntityStore())
	_, err = buffers.ToCollection(ctx, "b", "  ", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = buffers.ToCollection(ctx, "missing", "notes", "")
	assert.True(t, errors.Is(err, domain.ErrBufferNotFound))
}
