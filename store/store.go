package store

import (
	"context"

	"github.com/xraph/conductor/job"
)

// Store is the aggregate persistence interface. A single backend
// implements the job store plus lifecycle. Backends hold rows, never
// semantics: transition validation and lock scoping live above them.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
