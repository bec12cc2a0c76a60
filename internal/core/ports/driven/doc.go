// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - EntityStore: Predicate-filtered reads over the six entity tables
//   - BufferStore: Persistence of named result buffers
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - EmbeddingService: Turns vector-query source text into a vector. Without it,
//     vector queries must carry a raw vector, and text-plus-vector searches
//     fall back to lexical matching.
//   - EntityWriter: Loads entities and embeddings. Only the ingest command needs it.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
