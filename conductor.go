package conductor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Conductor.
type Option func(*Conductor) error

// Storer is the minimal store interface held by the Conductor.
// It covers lifecycle operations only. The full interface
// (store.Store) embeds job.Store; subsystem layers type-assert to it
// to avoid an import cycle with the root package.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for the wired engine lifecycle.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Conductor is the central coordinator for job orchestration and event
// streaming. Create one with New() and functional options, then wire the
// subsystems with engine.Build.
type Conductor struct {
	config Config
	logger *slog.Logger
	store  Storer
	engine runner

	started bool
}

// New creates a new Conductor with the given options.
func New(opts ...Option) (*Conductor, error) {
	c := &Conductor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conductor's logger.
func (c *Conductor) Logger() *slog.Logger { return c.logger }

// Store returns the conductor's store.
func (c *Conductor) Store() Storer { return c.store }

// Config returns a copy of the conductor's configuration.
func (c *Conductor) Config() Config { return c.config }

// SetEngine sets the wired engine (called by the engine package).
func (c *Conductor) SetEngine(r runner) { c.engine = r }

// Start begins job processing: crash recovery first, then the sweeper.
func (c *Conductor) Start(ctx context.Context) error {
	if c.engine == nil {
		return ErrNoStore
	}
	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the conductor.
func (c *Conductor) Stop(ctx context.Context) error {
	if c.engine != nil && c.started {
		if err := c.engine.Stop(ctx); err != nil {
			c.logger.Error("engine stop error", "error", err)
		}
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend for the conductor.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds the job store interface.
func WithStore(s Storer) Option {
	return func(c *Conductor) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the conductor.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) error {
		c.logger = l
		return nil
	}
}

// WithHeartbeatInterval sets how long a phase may stay silent before a
// heartbeat event is published.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.HeartbeatInterval = d
		return nil
	}
}

// WithSweepInterval sets how often the cleanup sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.SweepInterval = d
		return nil
	}
}

// WithQueueMaxAge sets the minimum age before a terminal job's event
// queue becomes eligible for reclamation.
func WithQueueMaxAge(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.QueueMaxAge = d
		return nil
	}
}

// WithCacheTTL sets the freshness window for cached job entries.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.CacheTTL = d
		return nil
	}
}

// WithEventBufferSize sets the per-job event queue capacity.
func WithEventBufferSize(n int) Option {
	return func(c *Conductor) error {
		c.config.EventBufferSize = n
		return nil
	}
}

// WithStalenessWindow sets how long a running job may go without
// progress before it is flagged as stale.
func WithStalenessWindow(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.StalenessWindow = d
		return nil
	}
}
