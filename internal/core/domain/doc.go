// Package domain defines the core value types for carchive search.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - EntityType: One of the six searchable record kinds
//   - SearchCriteria: The single query object accepted by the search core
//   - SearchResults: A ranked, paginated, entity-typed result envelope
//   - Buffer: A named, persisted set of entity references
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
