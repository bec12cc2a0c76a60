package mcp

import (
	"context"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	results  *domain.SearchResults
	err      error
	criteria domain.SearchCriteria
}

func (m *mockSearchService) Search(_ context.Context, criteria domain.SearchCriteria) (*domain.SearchResults, error) {
	m.criteria = criteria
	if m.err != nil {
		return nil, m.err
	}
	if m.results == nil {
		return &domain.SearchResults{}, nil
	}
	return m.results, nil
}

func (m *mockSearchService) SearchWithin(
	ctx context.Context,
	criteria domain.SearchCriteria,
	_ []domain.EntityRef,
) (*domain.SearchResults, error) {
	return m.Search(ctx, criteria)
}

// mockBufferService is a mock implementation of driving.BufferService.
type mockBufferService struct {
	results   *domain.SearchResults
	summaries []domain.BufferSummary
	handle    domain.BufferHandle
	err       error

	savedName string
	savedRefs []domain.EntityRef
	savedOpts domain.BufferSaveOptions
	narrowed  string
	criteria  domain.SearchCriteria
	listOwner string
	deleted   string
}

func (m *mockBufferService) Save(
	_ context.Context,
	name string,
	results *domain.SearchResults,
	opts domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	m.savedName, m.savedRefs, m.savedOpts = name, results.Refs(), opts
	return m.handle, m.err
}

func (m *mockBufferService) SaveRefs(
	_ context.Context,
	name string,
	refs []domain.EntityRef,
	opts domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	m.savedName, m.savedRefs, m.savedOpts = name, refs, opts
	return m.handle, m.err
}

func (m *mockBufferService) Load(_ context.Context, name string) (*domain.Buffer, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Buffer{Name: name}, nil
}

func (m *mockBufferService) Narrow(
	_ context.Context,
	name string,
	criteria domain.SearchCriteria,
) (*domain.SearchResults, error) {
	m.narrowed, m.criteria = name, criteria
	if m.err != nil {
		return nil, m.err
	}
	if m.results == nil {
		return &domain.SearchResults{}, nil
	}
	return m.results, nil
}

func (m *mockBufferService) List(_ context.Context, owner string) ([]domain.BufferSummary, error) {
	m.listOwner = owner
	return m.summaries, m.err
}

func (m *mockBufferService) Delete(_ context.Context, name string) error {
	m.deleted = name
	return m.err
}

func (m *mockBufferService) Merge(
	_ context.Context,
	_ string,
	_ domain.BufferOp,
	_ []string,
	_ domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	return m.handle, m.err
}

func (m *mockBufferService) Prune(_ context.Context) (int, error) {
	return 0, m.err
}

func (m *mockBufferService) Append(_ context.Context, _ string, _ []domain.EntityRef) (domain.BufferHandle, error) {
	return m.handle, m.err
}

func (m *mockBufferService) ToCollection(_ context.Context, _, _, _ string) (domain.Row, error) {
	return domain.Row{}, m.err
}
