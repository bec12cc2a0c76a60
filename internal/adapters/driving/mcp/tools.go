package mcp

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query       string            `json:"query,omitempty" jsonschema:"text to match case-insensitively"`
	Semantic    bool              `json:"semantic,omitempty" jsonschema:"also match the query by meaning"`
	Similar     string            `json:"similar,omitempty" jsonschema:"match by meaning against this text instead of the query"`
	EntityTypes []string          `json:"entity_types,omitempty" jsonschema:"conversation, message, chunk, media, agent_output or collection; empty searches all"`
	Meta        map[string]string `json:"meta,omitempty" jsonschema:"metadata equality filters"`
	Since       string            `json:"since,omitempty" jsonschema:"only entities on or after this date (YYYY-MM-DD or RFC 3339)"`
	Until       string            `json:"until,omitempty" jsonschema:"only entities on or before this date (YYYY-MM-DD or RFC 3339)"`
	Days        int               `json:"days,omitempty" jsonschema:"only entities from the last N days"`
	Match       string            `json:"match,omitempty" jsonschema:"any_word (default), all_words or phrase"`
	Sort        string            `json:"sort,omitempty" jsonschema:"relevance (default), date_desc or date_asc"`
	Limit       int               `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
	Offset      int               `json:"offset,omitempty" jsonschema:"number of results to skip"`
	Threshold   *float64          `json:"threshold,omitempty" jsonschema:"maximum cosine distance for a semantic match, 0 to 1"`
	SaveAs      string            `json:"save_as,omitempty" jsonschema:"save the whole matched page as a buffer with this name"`
	TTL         string            `json:"ttl,omitempty" jsonschema:"buffer lifetime such as 30m or 24h"`
}

// SearchOutput is the output schema for the search and buffer_narrow tools.
type SearchOutput struct {
	Results        []SearchResultOutput `json:"results"`
	Count          int                  `json:"count"`
	TotalMatched   int                  `json:"total_matched"`
	Truncated      bool                 `json:"truncated,omitempty"`
	VectorDegraded bool                 `json:"vector_degraded,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	Buffer         *BufferOutput        `json:"buffer,omitempty"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Score      float64        `json:"score"`
	Timestamp  time.Time      `json:"timestamp"`
	Excerpt    string         `json:"excerpt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RefInput names one entity.
type RefInput struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// BufferSaveInput is the input schema for the buffer_save tool.
type BufferSaveInput struct {
	Name        string     `json:"name,omitempty" jsonschema:"buffer name; empty generates one"`
	Refs        []RefInput `json:"refs" jsonschema:"entities to keep, in order"`
	TTL         string     `json:"ttl,omitempty" jsonschema:"buffer lifetime such as 30m or 24h"`
	Description string     `json:"description,omitempty"`
}

// BufferOutput describes a saved buffer.
type BufferOutput struct {
	Name      string     `json:"name"`
	Count     int        `json:"count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BufferNarrowInput is the input schema for the buffer_narrow tool.
type BufferNarrowInput struct {
	Name        string            `json:"name" jsonschema:"buffer to narrow"`
	Query       string            `json:"query,omitempty" jsonschema:"text to match case-insensitively"`
	Semantic    bool              `json:"semantic,omitempty" jsonschema:"also match the query by meaning"`
	Similar     string            `json:"similar,omitempty" jsonschema:"match by meaning against this text instead of the query"`
	EntityTypes []string          `json:"entity_types,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Since       string            `json:"since,omitempty"`
	Until       string            `json:"until,omitempty"`
	Days        int               `json:"days,omitempty" jsonschema:"only entities from the last N days"`
	Match       string            `json:"match,omitempty"`
	Sort        string            `json:"sort,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
	Threshold   *float64          `json:"threshold,omitempty" jsonschema:"maximum cosine distance for a semantic match, 0 to 1"`
	SaveAs      string            `json:"save_as,omitempty" jsonschema:"save the narrowed page as a new buffer"`
	TTL         string            `json:"ttl,omitempty"`
}

// BufferListInput is the input schema for the buffer_list tool.
type BufferListInput struct {
	All bool `json:"all,omitempty" jsonschema:"list buffers of every owner"`
}

// BufferListOutput is the output schema for the buffer_list tool.
type BufferListOutput struct {
	Buffers []domain.BufferSummary `json:"buffers"`
}

// BufferDeleteInput is the input schema for the buffer_delete tool.
type BufferDeleteInput struct {
	Name string `json:"name"`
}

// BufferDeleteOutput is the output schema for the buffer_delete tool.
type BufferDeleteOutput struct {
	Deleted string `json:"deleted"`
}

// defaultLimit keeps tool output small unless asked otherwise.
const defaultLimit = 10

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "search",
		Description: "Search conversations, messages, chunks, media, agent outputs and collections " +
			"with one query. Text and semantic matches are combined; filters restrict candidates.",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "buffer_save",
		Description: "Save a list of entity references as a named buffer, replacing any buffer of that name",
	}, s.handleBufferSave)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "buffer_narrow",
		Description: "Filter a saved buffer with further criteria; the result is always a subset of the buffer",
	}, s.handleBufferNarrow)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "buffer_list",
		Description: "List saved buffers that have not expired, newest first",
	}, s.handleBufferList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "buffer_delete",
		Description: "Delete a saved buffer",
	}, s.handleBufferDelete)
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	criteria, err := input.criteria()
	if err != nil {
		return nil, SearchOutput{}, err
	}
	opts, err := s.saveOptions(input.TTL, "")
	if err != nil {
		return nil, SearchOutput{}, err
	}

	results, err := s.ports.Search.Search(ctx, criteria)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	output := toSearchOutput(results)

	if input.SaveAs != "" {
		opts.Description = "search " + describe(input.Query, input.Similar)
		handle, err := s.ports.Buffers.Save(ctx, input.SaveAs, results, opts)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("saving buffer: %w", err)
		}
		output.Buffer = toBufferOutput(handle)
	}
	return nil, output, nil
}

// handleBufferSave handles the buffer_save tool invocation.
func (s *Server) handleBufferSave(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BufferSaveInput,
) (*mcp.CallToolResult, BufferOutput, error) {
	refs := make([]domain.EntityRef, 0, len(input.Refs))
	for _, r := range input.Refs {
		t, err := domain.ParseEntityType(r.EntityType)
		if err != nil {
			return nil, BufferOutput{}, err
		}
		if r.EntityID == "" {
			return nil, BufferOutput{}, fmt.Errorf("%w: entity_id is required", domain.ErrInvalidInput)
		}
		refs = append(refs, domain.EntityRef{Type: t, ID: r.EntityID})
	}
	opts, err := s.saveOptions(input.TTL, input.Description)
	if err != nil {
		return nil, BufferOutput{}, err
	}

	handle, err := s.ports.Buffers.SaveRefs(ctx, input.Name, refs, opts)
	if err != nil {
		return nil, BufferOutput{}, err
	}
	return nil, *toBufferOutput(handle), nil
}

// handleBufferNarrow handles the buffer_narrow tool invocation.
func (s *Server) handleBufferNarrow(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BufferNarrowInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	criteria, err := input.search().criteria()
	if err != nil {
		return nil, SearchOutput{}, err
	}
	opts, err := s.saveOptions(input.TTL, "")
	if err != nil {
		return nil, SearchOutput{}, err
	}

	results, err := s.ports.Buffers.Narrow(ctx, input.Name, criteria)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	output := toSearchOutput(results)

	if input.SaveAs != "" {
		opts.Description = input.Name + " narrowed by " + describe(input.Query, "")
		handle, err := s.ports.Buffers.Save(ctx, input.SaveAs, results, opts)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("saving buffer: %w", err)
		}
		output.Buffer = toBufferOutput(handle)
	}
	return nil, output, nil
}

// handleBufferList handles the buffer_list tool invocation.
func (s *Server) handleBufferList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BufferListInput,
) (*mcp.CallToolResult, BufferListOutput, error) {
	owner := s.ports.Owner
	if input.All {
		owner = ""
	}
	summaries, err := s.ports.Buffers.List(ctx, owner)
	if err != nil {
		return nil, BufferListOutput{}, err
	}
	if summaries == nil {
		summaries = []domain.BufferSummary{}
	}
	return nil, BufferListOutput{Buffers: summaries}, nil
}

// handleBufferDelete handles the buffer_delete tool invocation.
func (s *Server) handleBufferDelete(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BufferDeleteInput,
) (*mcp.CallToolResult, BufferDeleteOutput, error) {
	if err := s.ports.Buffers.Delete(ctx, input.Name); err != nil {
		return nil, BufferDeleteOutput{}, err
	}
	return nil, BufferDeleteOutput{Deleted: input.Name}, nil
}

func (s *Server) saveOptions(ttl, description string) (domain.BufferSaveOptions, error) {
	opts := domain.BufferSaveOptions{Owner: s.ports.Owner, Description: description}
	if ttl == "" {
		return opts, nil
	}
	d, err := time.ParseDuration(ttl)
	if err != nil || d < 0 {
		return opts, fmt.Errorf("%w: ttl %q must be a duration such as 30m or 24h", domain.ErrInvalidInput, ttl)
	}
	opts.TTL = d
	return opts, nil
}

func (in BufferNarrowInput) search() SearchInput {
	return SearchInput{
		Query:       in.Query,
		Semantic:    in.Semantic,
		Similar:     in.Similar,
		EntityTypes: in.EntityTypes,
		Meta:        in.Meta,
		Since:       in.Since,
		Until:       in.Until,
		Days:        in.Days,
		Match:       in.Match,
		Sort:        in.Sort,
		Limit:       in.Limit,
		Offset:      in.Offset,
		Threshold:   in.Threshold,
	}
}

// criteria converts tool input into search criteria.
func (in SearchInput) criteria() (domain.SearchCriteria, error) {
	c := domain.SearchCriteria{
		TextQuery:       strings.TrimSpace(in.Query),
		MatchMode:       domain.MatchMode(in.Match),
		SortOrder:       domain.SortOrder(in.Sort),
		Days:            in.Days,
		Limit:           in.Limit,
		Offset:          in.Offset,
		VectorThreshold: in.Threshold,
	}
	if c.Limit == 0 {
		c.Limit = defaultLimit
	}

	for _, raw := range in.EntityTypes {
		t, err := domain.ParseEntityType(raw)
		if err != nil {
			return c, err
		}
		c.EntityTypes = append(c.EntityTypes, t)
	}

	switch {
	case in.Similar != "":
		c.VectorQuery = &domain.VectorQuery{SourceText: in.Similar}
	case in.Semantic && c.TextQuery != "":
		c.VectorQuery = &domain.VectorQuery{SourceText: c.TextQuery}
	}

	start, err := parseTime(in.Since, false)
	if err != nil {
		return c, err
	}
	end, err := parseTime(in.Until, true)
	if err != nil {
		return c, err
	}
	if start != nil || end != nil {
		c.DateRange = &domain.DateRange{Start: start, End: end}
	}

	for _, k := range slices.Sorted(maps.Keys(in.Meta)) {
		c.MetaFilters = append(c.MetaFilters, domain.MetaFilter{Key: k, Value: in.Meta[k]})
	}
	return c, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare --until date covers the whole day.
func parseTime(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a date", domain.ErrInvalidInput, s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func describe(query, similar string) string {
	if query != "" {
		return fmt.Sprintf("%q", query)
	}
	if similar != "" {
		return fmt.Sprintf("similar to %q", similar)
	}
	return "filters"
}

func toSearchOutput(results *domain.SearchResults) SearchOutput {
	output := SearchOutput{
		Results:        make([]SearchResultOutput, len(results.Results)),
		Count:          len(results.Results),
		TotalMatched:   results.TotalMatched,
		Truncated:      results.Truncated,
		VectorDegraded: results.VectorDegraded,
		Warnings:       results.Warnings,
	}
	for i := range results.Results {
		r := &results.Results[i]
		output.Results[i] = SearchResultOutput{
			EntityType: string(r.EntityType),
			EntityID:   r.EntityID,
			Score:      r.Score,
			Timestamp:  r.Timestamp,
			Excerpt:    r.Excerpt,
			Metadata:   r.Metadata,
		}
	}
	return output
}

func toBufferOutput(h domain.BufferHandle) *BufferOutput {
	return &BufferOutput{Name: h.Name, Count: h.Count, ExpiresAt: h.ExpiresAt}
}
