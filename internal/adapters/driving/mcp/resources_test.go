package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

func TestExtractBufferName(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "valid buffer URI",
			uri:      "carchive://buffers/foxes",
			expected: "foxes",
		},
		{
			name:     "invalid prefix",
			uri:      "file://buffers/foxes",
			expected: "",
		},
		{
			name:     "nested path",
			uri:      "carchive://buffers/foxes/extra",
			expected: "",
		},
		{
			name:     "list URI",
			uri:      "carchive://buffers",
			expected: "",
		},
		{
			name:     "empty URI",
			uri:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractBufferName(tt.uri)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Helper to create a ReadResourceRequest with the given URI.
func makeReadResourceRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestServer_handleBuffersResource(t *testing.T) {
	ctx := context.Background()

	t.Run("no buffers returns empty list", func(t *testing.T) {
		server := newTestServer(t, &mockSearchService{}, &mockBufferService{})

		req := makeReadResourceRequest("carchive://buffers")
		result, err := server.handleBuffersResource(ctx, req)

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "[]", result.Contents[0].Text)
		assert.Equal(t, "application/json", result.Contents[0].MIMEType)
	})

	t.Run("returns owner buffers", func(t *testing.T) {
		buffers := &mockBufferService{
			summaries: []domain.BufferSummary{
				{Name: "foxes", Owner: "alice", Count: 3, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			},
		}
		server := newTestServer(t, &mockSearchService{}, buffers)

		req := makeReadResourceRequest("carchive://buffers")
		result, err := server.handleBuffersResource(ctx, req)

		require.NoError(t, err)
		assert.Equal(t, "alice", buffers.listOwner)
		assert.Contains(t, result.Contents[0].Text, `"name": "foxes"`)
		assert.Contains(t, result.Contents[0].Text, `"count": 3`)
	})

	t.Run("returns error on list failure", func(t *testing.T) {
		server := newTestServer(t, &mockSearchService{}, &mockBufferService{err: errors.New("database error")})

		req := makeReadResourceRequest("carchive://buffers")
		_, err := server.handleBuffersResource(ctx, req)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "listing buffers")
	})
}

func TestServer_handleBufferResource(t *testing.T) {
	ctx := context.Background()

	t.Run("returns buffer contents newest first", func(t *testing.T) {
		buffers := &mockBufferService{results: sampleResults()}
		server := newTestServer(t, &mockSearchService{}, buffers)

		req := makeReadResourceRequest("carchive://buffers/foxes")
		result, err := server.handleBufferResource(ctx, req)

		require.NoError(t, err)
		assert.Equal(t, "foxes", buffers.narrowed)
		assert.Equal(t, domain.SortDateDesc, buffers.criteria.SortOrder)
		assert.Contains(t, result.Contents[0].Text, `"entity_id": "m1"`)
		assert.Equal(t, "carchive://buffers/foxes", result.Contents[0].URI)
	})

	t.Run("missing and expired buffers are not found", func(t *testing.T) {
		for _, cause := range []error{domain.ErrBufferNotFound, domain.ErrBufferExpired} {
			server := newTestServer(t, &mockSearchService{}, &mockBufferService{err: cause})

			req := makeReadResourceRequest("carchive://buffers/gone")
			_, err := server.handleBufferResource(ctx, req)

			require.Error(t, err)
			assert.NotErrorIs(t, err, cause)
		}
	})

	t.Run("invalid URI returns not found", func(t *testing.T) {
		buffers := &mockBufferService{}
		server := newTestServer(t, &mockSearchService{}, buffers)

		req := makeReadResourceRequest("carchive://buffers/")
		_, err := server.handleBufferResource(ctx, req)

		require.Error(t, err)
		assert.Empty(t, buffers.narrowed)
	})

	t.Run("returns error on storage failure", func(t *testing.T) {
		server := newTestServer(t, &mockSearchService{}, &mockBufferService{err: errors.New("disk full")})

		req := makeReadResourceRequest("carchive://buffers/foxes")
		_, err := server.handleBufferResource(ctx, req)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading buffer")
	})
}
