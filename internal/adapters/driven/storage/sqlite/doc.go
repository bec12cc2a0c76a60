// Package sqlite provides the SQLite-based entity and buffer stores.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. Both stores share one database:
//
//   - EntityStore: archive entities and their embeddings (read and write)
//   - BufferStore: named result buffers and their ordered items
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Query text is built by the entitysql package, shared with the PostgreSQL store.
//
// # Data Location
//
// By default, the database is stored at ~/.carchive/data/archive.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode.
package sqlite
