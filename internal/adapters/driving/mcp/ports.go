package mcp

import (
	"github.com/custodia-labs/carchive/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search provides search capabilities.
	Search driving.SearchService

	// Buffers manages saved result buffers.
	Buffers driving.BufferService

	// Owner tags buffers saved through this server.
	Owner string
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	if p.Buffers == nil {
		return ErrMissingBufferService
	}
	return nil
}
