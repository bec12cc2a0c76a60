// Package mcp provides an MCP (Model Context Protocol) server adapter for carchive.
// It lets AI assistants search the archive and keep result sets as named
// buffers between calls.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrMissingBufferService is returned when the buffer service is not provided.
var ErrMissingBufferService = errors.New("mcp: buffer service is required")
