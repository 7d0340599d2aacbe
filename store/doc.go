// Package store provides persistence backends for conductor.
//
// Each backend lives in its own subpackage and implements store.Store:
//
//   - memory: in-memory maps, for tests and development
//   - sqlite: embedded SQLite via modernc.org/sqlite (no CGO)
//   - postgres: PostgreSQL via pgx
//   - bun: PostgreSQL via the Bun ORM
//   - redis: Redis hashes with status index sets
//   - mongo: MongoDB collections
//
// Backends are interchangeable; pick one with conductor.WithStore.
package store
