package conductor

import "time"

// Config holds configuration for the Conductor.
type Config struct {
	// HeartbeatInterval is how long a phase may run without publishing a
	// real event before the supervisor emits a heartbeat event.
	HeartbeatInterval time.Duration

	// SweepInterval is how often the cleanup sweeper runs.
	SweepInterval time.Duration

	// QueueMaxAge is how old a terminal job's event queue must be before
	// the sweeper reclaims it. Queues of non-terminal jobs are never
	// reclaimed, regardless of age.
	QueueMaxAge time.Duration

	// CacheTTL is how long a cached job entry stays fresh. Stale entries
	// are re-read from the store on the next access.
	CacheTTL time.Duration

	// EventBufferSize is the per-job event queue capacity. When a queue
	// is full, publishing drops the oldest unread event.
	EventBufferSize int

	// StalenessWindow is how long a running job may go without progress
	// before it is flagged as stale. Stale jobs are reported, never
	// cancelled automatically.
	StalenessWindow time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		SweepInterval:     time.Minute,
		QueueMaxAge:       5 * time.Minute,
		CacheTTL:          5 * time.Minute,
		EventBufferSize:   256,
		StalenessWindow:   10 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
	}
}
