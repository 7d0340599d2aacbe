// Package cache provides a write-through, time-bounded in-memory view
// over a job store. It is the synchronization point for all job access:
// one lock scope per job ID covers every read-then-write sequence, and
// concurrent cache misses for the same ID are coalesced into a single
// store read, so two racing misses can never install divergent entries.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/keylock"
)

// MutationFn mutates a job in place. It runs under the job's lock scope
// with a private copy; the mutation is persisted only if it returns nil
// and the resulting status transition is legal.
type MutationFn func(*job.Job) error

type entry struct {
	job       *job.Job
	fetchedAt time.Time
}

// Cache fronts a job.Store. Safe for concurrent use.
type Cache struct {
	store  job.Store
	ttl    time.Duration
	locks  *keylock.Map
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window for cached entries. Zero means
// entries never go stale (they are still reclaimed by the sweeper once
// their job is terminal).
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over the given store.
func New(store job.Store, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		ttl:     5 * time.Minute,
		locks:   keylock.New(),
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying job store.
func (c *Cache) Store() job.Store { return c.store }

// Create persists a new job and fills the cache. The store is the
// authoritative duplicate check, so N concurrent creates of the same ID
// yield exactly one stored job and N-1 ErrJobAlreadyExists.
func (c *Cache) Create(ctx context.Context, j *job.Job) (*job.Job, error) {
	key := j.ID.String()
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	if err := c.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	c.fill(key, j)
	return j.Clone(), nil
}

// Get returns the job, reading the cache first. A miss (or stale entry)
// reads the store exactly once regardless of how many callers race it;
// every racer observes the one value that was installed.
func (c *Cache) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	key := jobID.String()

	if j, ok := c.fresh(key); ok {
		return j.Clone(), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.locks.Lock(key)
		defer c.locks.Unlock(key)

		// Another caller may have filled the entry while we waited on
		// the lock; use it rather than overwriting with a second read.
		if j, ok := c.fresh(key); ok {
			return j, nil
		}

		j, loadErr := c.store.GetJob(ctx, jobID)
		if loadErr != nil {
			return nil, loadErr
		}
		c.fill(key, j)
		return j, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*job.Job).Clone(), nil
}

// Update applies fn to the current job and persists the result, atomic
// with respect to every other Update, Create, and miss-fill on the same
// ID. Returns ErrIllegalTransition if fn asserts an illegal status
// transition; the stored job is left unchanged in that case.
func (c *Cache) Update(ctx context.Context, jobID id.JobID, fn MutationFn) (*job.Job, error) {
	key := jobID.String()
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	cur, ok := c.fresh(key)
	if !ok {
		loaded, err := c.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		cur = loaded
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := job.ValidateTransition(cur.Status, next.Status); err != nil {
		return nil, err
	}
	next.Touch()

	if err := c.store.PutJob(ctx, next); err != nil {
		return nil, err
	}
	c.fill(key, next)
	return next.Clone(), nil
}

// ListByStatus reads the store directly: after a restart the cache may
// be empty while the store still holds every non-terminal job.
func (c *Cache) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return c.store.ListJobsByStatus(ctx, status)
}

// Warm installs a store-loaded job into the cache without a store
// round-trip. Used by crash recovery after ListByStatus.
func (c *Cache) Warm(j *job.Job) {
	key := j.ID.String()
	c.locks.Lock(key)
	c.fill(key, j)
	c.locks.Unlock(key)
}

// SweepExpired removes cached entries that are both older than maxAge
// and hold a terminal job. An entry for a job still in progress is never
// removed by age alone — it simply goes stale and is refreshed on the
// next access. Returns the number of entries removed.
func (c *Cache) SweepExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.fetchedAt.After(cutoff) {
			continue
		}
		if !e.job.Status.Terminal() {
			continue
		}
		delete(c.entries, key)
		removed++
	}
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// fresh returns the cached job if present and within the TTL.
func (c *Cache) fresh(key string) (*job.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e.job, true
}

// fill installs a copy of j. Caller must hold the job's key lock.
func (c *Cache) fill(key string, j *job.Job) {
	c.mu.Lock()
	c.entries[key] = &entry{job: j.Clone(), fetchedAt: time.Now()}
	c.mu.Unlock()
}
