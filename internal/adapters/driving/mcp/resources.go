package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

const (
	// uriScheme is the custom URI scheme for carchive resources.
	uriScheme = "carchive://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "buffers",
		Name:        "buffers",
		Description: "Saved result buffers that have not expired",
		MIMEType:    "application/json",
	}, s.handleBuffersResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "buffers/{name}",
		Name:        "buffer-contents",
		Description: "Current contents of a saved buffer, newest first",
		MIMEType:    "application/json",
	}, s.handleBufferResource)
}

// handleBuffersResource lists the owner's buffers.
func (s *Server) handleBuffersResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	summaries, err := s.ports.Buffers.List(ctx, s.ports.Owner)
	if err != nil {
		return nil, fmt.Errorf("listing buffers: %w", err)
	}
	if summaries == nil {
		summaries = []domain.BufferSummary{}
	}
	return jsonResource(req.Params.URI, summaries)
}

// handleBufferResource returns the live contents of one buffer.
func (s *Server) handleBufferResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	name := extractBufferName(req.Params.URI)
	if name == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	results, err := s.ports.Buffers.Narrow(ctx, name, domain.SearchCriteria{SortOrder: domain.SortDateDesc})
	if errors.Is(err, domain.ErrBufferNotFound) || errors.Is(err, domain.ErrBufferExpired) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	return jsonResource(req.Params.URI, toSearchOutput(results))
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractBufferName extracts the name from a URI like carchive://buffers/{name}.
func extractBufferName(uri string) string {
	const prefix = uriScheme + "buffers/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	name := strings.TrimPrefix(uri, prefix)
	if strings.Contains(name, "/") {
		return ""
	}
	return name
}
