package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/keylock"
)

// TerminalFn reports whether a job is in a terminal state. It must read
// the authoritative record; returning conductor.ErrJobNotFound marks the
// queue as orphaned (its job record is gone).
type TerminalFn func(ctx context.Context, jobID id.JobID) (bool, error)

type regEntry struct {
	queue     *Queue
	createdAt time.Time

	// terminalAt is set once the supervisor reports the job terminal.
	// Sweep eligibility ages from it so a subscriber keeps maxAge to
	// drain or reconnect after completion.
	terminalAt *time.Time
}

// Registry manages one bounded event queue per job. Register, Get,
// Unregister, and sweep inspection of the same job ID are mutually
// exclusive; different jobs never contend on the same lock.
type Registry struct {
	bufferSize int
	locks      *keylock.Map
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*regEntry

	totalPublished atomic.Int64
	totalDropped   atomic.Int64
	totalReused    atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithBufferSize sets the per-job event buffer capacity.
func WithBufferSize(n int) Option {
	return func(r *Registry) { r.bufferSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		bufferSize: 256,
		locks:      keylock.New(),
		logger:     slog.Default(),
		entries:    make(map[string]*regEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a bounded queue for the job, or returns the existing
// one: a reconnecting subscriber must be able to resume the same buffer,
// so reuse is a notice, not an error.
func (r *Registry) Register(jobID id.JobID) *Queue {
	key := jobID.String()
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &regEntry{queue: newQueue(r.bufferSize), createdAt: time.Now()}
		r.entries[key] = e
	}
	r.mu.Unlock()

	if ok {
		r.totalReused.Add(1)
		r.logger.Info("event queue reused",
			slog.String("job_id", key),
			slog.String("queue_instance", e.queue.InstanceID()),
		)
	}
	return e.queue
}

// Get returns the job's queue, or ErrQueueNotFound. It takes the same
// per-job lock as Register/Unregister so a reader can never observe a
// half-removed entry.
func (r *Registry) Get(jobID id.JobID) (*Queue, error) {
	key := jobID.String()
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return nil, conductor.ErrQueueNotFound
	}
	return e.queue, nil
}

// Publish appends the event to the job's queue if one is registered;
// otherwise it is a no-op. A job without a subscriber keeps running —
// events are simply not buffered before registration. Publish never
// blocks: a full queue drops its oldest unread event.
func (r *Registry) Publish(jobID id.JobID, evt *Event) {
	r.mu.Lock()
	e, ok := r.entries[jobID.String()]
	r.mu.Unlock()
	if !ok {
		return
	}

	before := e.queue.Dropped()
	if e.queue.push(evt) {
		r.totalPublished.Add(1)
	}
	if d := e.queue.Dropped() - before; d > 0 {
		r.totalDropped.Add(d)
	}
}

// Unregister removes and closes the job's queue. Idempotent.
func (r *Registry) Unregister(jobID id.JobID) {
	key := jobID.String()
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok {
		e.queue.close()
	}
}

// MarkTerminal records that the job has reached a terminal state. The
// queue itself stays registered — a subscriber reconnecting before the
// sweep still sees the buffered tail — but becomes sweep-eligible once
// it has aged past the sweeper's maxAge.
func (r *Registry) MarkTerminal(jobID id.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID.String()]
	if ok && e.terminalAt == nil {
		now := time.Now()
		e.terminalAt = &now
	}
}

// SweepExpired removes queues that are both older than maxAge and whose
// job is confirmed terminal or whose record no longer exists. Age alone
// is never sufficient: sweeping a live job's queue would silently break
// streaming. Returns the number of queues removed.
func (r *Registry) SweepExpired(ctx context.Context, maxAge time.Duration, isJobTerminal TerminalFn) int {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, key := range keys {
		r.locks.Lock(key)

		r.mu.Lock()
		e, ok := r.entries[key]
		r.mu.Unlock()
		if !ok {
			r.locks.Unlock(key)
			continue
		}

		ref := e.createdAt
		if e.terminalAt != nil {
			ref = *e.terminalAt
		}
		if ref.After(cutoff) {
			r.locks.Unlock(key)
			continue
		}

		jobID, parseErr := id.ParseJobID(key)
		if parseErr != nil {
			r.locks.Unlock(key)
			continue
		}

		terminal, err := isJobTerminal(ctx, jobID)
		orphan := errors.Is(err, conductor.ErrJobNotFound)
		if err != nil && !orphan {
			r.logger.Warn("sweep: terminal check failed",
				slog.String("job_id", key),
				slog.String("error", err.Error()),
			)
			r.locks.Unlock(key)
			continue
		}
		if !terminal && !orphan {
			r.locks.Unlock(key)
			continue
		}

		r.mu.Lock()
		delete(r.entries, key)
		r.mu.Unlock()
		e.queue.close()
		removed++

		r.locks.Unlock(key)
	}
	return removed
}

// Stats contains registry counters.
type Stats struct {
	QueueCount     int   `json:"queue_count"`
	TotalPublished int64 `json:"total_published"`
	TotalDropped   int64 `json:"total_dropped"`
	TotalReused    int64 `json:"total_reused"`
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	count := len(r.entries)
	r.mu.Unlock()

	return Stats{
		QueueCount:     count,
		TotalPublished: r.totalPublished.Load(),
		TotalDropped:   r.totalDropped.Load(),
		TotalReused:    r.totalReused.Load(),
	}
}
