// Package engine wires all Conductor subsystems together: the job
// cache, the event queue registry, the hook registry, the workflow
// supervisor, and the cleanup sweeper.
//
// This package exists to break the import cycle: the root conductor
// package defines Entity and Config (imported by job, cache, etc.) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/cache"
	"github.com/xraph/conductor/hook"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/stream"
	"github.com/xraph/conductor/supervisor"
	"github.com/xraph/conductor/sweeper"
)

// Subscription is a live view of one job's event queue. Multiple
// subscriptions to the same job share the underlying queue.
type Subscription struct {
	// ID identifies this subscription.
	ID id.SubscriberID

	// JobID is the job this subscription follows.
	JobID id.JobID

	queue *stream.Queue
}

// Events returns the receive channel. It is closed when the job's
// queue is explicitly unsubscribed or reclaimed by the sweeper.
func (s *Subscription) Events() <-chan *stream.Event { return s.queue.C() }

// Dropped returns how many events were discarded from the shared queue
// because no reader kept up.
func (s *Subscription) Dropped() int64 { return s.queue.Dropped() }

// Engine wraps a Conductor with the wired orchestration subsystems.
// Use Build() to create one from a Conductor.
type Engine struct {
	c      *conductor.Conductor
	store  job.Store
	logger *slog.Logger

	cache   *cache.Cache
	streams *stream.Registry
	hooks   *hook.Registry
	phases  *supervisor.Registry
	sup     *supervisor.Supervisor
	sweep   *sweeper.Sweeper

	bo         backoff.Strategy
	maxRetries int
	limiter    *rate.Limiter

	stalenessWindow time.Duration
	shutdownTimeout time.Duration

	// OpenTelemetry meter provider (optional; nil means use global).
	meterProvider metric.MeterProvider

	// Extensions registered via options before the hook registry exists.
	pendingExts []hook.Extension
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.pendingExts = append(eng.pendingExts, e)
	}
}

// WithBackoff sets the phase retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithMaxPhaseRetries sets how many times a failed phase is retried
// before the job fails terminally.
func WithMaxPhaseRetries(n int) Option {
	return func(eng *Engine) { eng.maxRetries = n }
}

// WithStartRateLimit caps the rate of StartJob calls. Callers over the
// limit block until a slot frees or their context expires.
func WithStartRateLimit(limit rate.Limit, burst int) Option {
	return func(eng *Engine) { eng.limiter = rate.NewLimiter(limit, burst) }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// observability extension uses this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from an existing Conductor.
// The Conductor's store must implement job.Store.
func Build(c *conductor.Conductor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, conductor.ErrNoStore
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement job.Store")
	}

	config := c.Config()
	eng := &Engine{
		c:               c,
		store:           js,
		logger:          logger,
		maxRetries:      3,
		stalenessWindow: config.StalenessWindow,
		shutdownTimeout: config.ShutdownTimeout,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.hooks = hook.NewRegistry(logger)
	for _, e := range eng.pendingExts {
		eng.hooks.Register(e)
	}
	eng.pendingExts = nil

	// Register the observability metrics extension.
	var (
		obsExt *observability.MetricsExtension
		obsErr error
	)
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/conductor/observability")
		obsExt, obsErr = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt, obsErr = observability.NewMetricsExtension()
	}
	if obsErr != nil {
		return nil, fmt.Errorf("build metrics extension: %w", obsErr)
	}
	eng.hooks.Register(obsExt)

	eng.cache = cache.New(js,
		cache.WithTTL(config.CacheTTL),
		cache.WithLogger(logger),
	)
	eng.streams = stream.NewRegistry(
		stream.WithBufferSize(config.EventBufferSize),
		stream.WithLogger(logger),
	)
	eng.phases = supervisor.NewPhaseRegistry()
	eng.sup = supervisor.New(eng.cache, eng.streams, eng.phases,
		supervisor.WithLogger(logger),
		supervisor.WithHooks(eng.hooks),
		supervisor.WithHeartbeatInterval(config.HeartbeatInterval),
		supervisor.WithBackoff(eng.bo),
		supervisor.WithMaxPhaseRetries(eng.maxRetries),
	)
	eng.sweep = sweeper.New(eng.cache, eng.streams, eng.sup.IsJobTerminal,
		sweeper.WithInterval(config.SweepInterval),
		sweeper.WithQueueMaxAge(config.QueueMaxAge),
		sweeper.WithCacheTTL(config.CacheTTL),
		sweeper.WithLogger(logger),
	)

	// Wire back into the Conductor.
	c.SetEngine(eng)

	return eng, nil
}

// RegisterPhase binds a phase function to a job kind; new jobs of the
// kind begin in the initial phase. Kinds registered twice keep the last
// binding.
func (eng *Engine) RegisterPhase(kind, initial string, fn supervisor.PhaseFunc) {
	eng.phases.Register(kind, initial, fn)
}

// Kinds returns the registered job kinds.
func (eng *Engine) Kinds() []string { return eng.phases.Kinds() }

// StartJob creates a job of the given kind and spawns its supervise
// goroutine. The input becomes the first phase's input verbatim.
func (eng *Engine) StartJob(ctx context.Context, kind string, input json.RawMessage) (*job.Job, error) {
	if eng.limiter != nil {
		if err := eng.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("start rate limit: %w", err)
		}
	}
	return eng.sup.StartJob(ctx, kind, input)
}

// Start marshals a typed input and starts a job of the given kind.
func Start[T any](ctx context.Context, eng *Engine, kind string, input T) (*job.Job, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for job kind %q: %w", kind, err)
	}
	return eng.StartJob(ctx, kind, data)
}

// GetJobStatus returns the current state of a job. Reads go through
// the cache; a miss falls through to the store.
func (eng *Engine) GetJobStatus(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.cache.Get(ctx, jobID)
}

// Subscribe attaches to a job's event queue, creating it if needed.
// Subscribing again to the same job returns the same underlying queue
// with any buffered events intact.
func (eng *Engine) Subscribe(jobID id.JobID) *Subscription {
	q := eng.streams.Register(jobID)
	return &Subscription{
		ID:    id.NewSubscriberID(),
		JobID: jobID,
		queue: q,
	}
}

// Unsubscribe tears down a job's event queue and closes its channel.
// All subscriptions sharing the queue are affected. Safe to call for
// jobs that were never subscribed.
func (eng *Engine) Unsubscribe(jobID id.JobID) {
	eng.streams.Unregister(jobID)
}

// RespondToPause delivers a response to a paused job. The pauseID must
// match the job's outstanding pause or ErrStaleResponse is returned.
func (eng *Engine) RespondToPause(ctx context.Context, jobID id.JobID, pauseID string, response json.RawMessage) error {
	return eng.sup.RespondToPause(ctx, jobID, pauseID, response)
}

// Respond delivers a response to a paused job without a pause token,
// resolving whatever pause is outstanding. A job that is not awaiting
// input gets ErrStaleResponse.
func (eng *Engine) Respond(ctx context.Context, jobID id.JobID, response json.RawMessage) error {
	return eng.sup.Respond(ctx, jobID, response)
}

// CancelJob moves a non-terminal job to cancelled.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) error {
	return eng.sup.CancelJob(ctx, jobID)
}

// FlagStale returns running jobs that have published nothing for
// longer than the configured staleness window.
func (eng *Engine) FlagStale(ctx context.Context) ([]*job.Job, error) {
	return eng.sup.FlagStale(ctx, eng.stalenessWindow)
}

// Start recovers interrupted jobs from the store and launches the
// cleanup sweeper.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.sup.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	return eng.sweep.Start(ctx)
}

// Stop drains the engine: the sweeper stops first, then the supervisor
// waits for in-flight runs up to the shutdown timeout, then the
// Shutdown hook fires. If the context carries no deadline, the
// configured ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.shutdownTimeout)
		defer cancel()
	}

	if err := eng.sweep.Stop(ctx); err != nil {
		eng.logger.Warn("sweeper stop error", slog.String("error", err.Error()))
	}

	err := eng.sup.Stop(ctx)
	if err != nil {
		eng.logger.Warn("supervisor drain incomplete", slog.String("error", err.Error()))
	}

	eng.hooks.EmitShutdown(context.WithoutCancel(ctx))
	return err
}

// Hooks returns the lifecycle extension registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Cache returns the job cache.
func (eng *Engine) Cache() *cache.Cache { return eng.cache }

// Streams returns the event queue registry.
func (eng *Engine) Streams() *stream.Registry { return eng.streams }

// Supervisor returns the workflow supervisor.
func (eng *Engine) Supervisor() *supervisor.Supervisor { return eng.sup }

// Conductor returns the underlying Conductor.
func (eng *Engine) Conductor() *conductor.Conductor { return eng.c }
