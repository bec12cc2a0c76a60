// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The search core is made of:
//
//   - entityAdapter: One per entity type, turns stored rows into candidates
//   - LexicalMatcher: Substring and keyword scoring
//   - VectorMatcher: Cosine distance scoring against a threshold
//   - ResultRanker: Score blending, ordering and tie-breaking
//   - SearchService: Fans out per entity type and merges the passes
//   - BufferService: Named, persisted result sets
//
// Services are pure Go with no CGO or external dependencies.
package services
