package job

import (
	"context"

	"github.com/xraph/conductor/id"
)

// Store defines the persistence contract for jobs. Backends store rows,
// never semantics: status transitions are validated above the store, and
// PutJob is always called under the cache's per-job lock scope, so a
// backend needs no compare-and-swap of its own.
type Store interface {
	// CreateJob persists a new job. Returns ErrJobAlreadyExists if a job
	// with the same ID is already present.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns ErrJobNotFound if absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// PutJob replaces an existing job record. Returns ErrJobNotFound if
	// absent.
	PutJob(ctx context.Context, j *Job) error

	// ListJobsByStatus returns jobs in the given status, ordered by
	// creation time. Used by crash recovery, so it must reflect the
	// store, never a cache.
	ListJobsByStatus(ctx context.Context, status Status) ([]*Job, error)

	// DeleteJob removes a job by ID. Returns ErrJobNotFound if absent.
	DeleteJob(ctx context.Context, jobID id.JobID) error
}
