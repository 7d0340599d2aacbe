// Package sweeper reclaims idle cache entries and finished event queues
// on a fixed interval. It never touches durable store records; the cache
// refills from the store on demand and queues are rebuilt on subscribe.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conductor/cache"
	"github.com/xraph/conductor/stream"
)

// Sweeper runs the periodic reclamation loop for the job cache and the
// event queue registry.
type Sweeper struct {
	cache      *cache.Cache
	streams    *stream.Registry
	isTerminal stream.TerminalFn
	logger     *slog.Logger

	interval    time.Duration
	queueMaxAge time.Duration
	cacheTTL    time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often a sweep runs.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithQueueMaxAge sets the age past which terminal or orphaned event
// queues are removed.
func WithQueueMaxAge(d time.Duration) Option {
	return func(s *Sweeper) { s.queueMaxAge = d }
}

// WithCacheTTL sets the idle age past which cache entries are evicted.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Sweeper) { s.cacheTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a sweeper over the given cache and queue registry.
// isTerminal reports whether a job has reached a terminal status; the
// registry uses it to decide which aged queues are safe to drop.
func New(c *cache.Cache, streams *stream.Registry, isTerminal stream.TerminalFn, opts ...Option) *Sweeper {
	s := &Sweeper{
		cache:       c,
		streams:     streams,
		isTerminal:  isTerminal,
		logger:      slog.Default(),
		interval:    time.Minute,
		queueMaxAge: 5 * time.Minute,
		cacheTTL:    5 * time.Minute,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.logger.Info("sweeper starting",
		slog.Duration("interval", s.interval),
		slog.Duration("queue_max_age", s.queueMaxAge),
		slog.Duration("cache_ttl", s.cacheTTL),
	)

	s.wg.Add(1)
	go s.sweepLoop()

	return nil
}

// Stop signals the loop to stop and waits for it to finish or for the
// context deadline, whichever comes first.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("sweeper shutdown timed out")
	}

	return nil
}

func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one reclamation pass and returns the number of cache
// entries and event queues removed. It is safe to call concurrently
// with the background loop.
func (s *Sweeper) Sweep(ctx context.Context) (cacheRemoved, queuesRemoved int) {
	cacheRemoved = s.cache.SweepExpired(s.cacheTTL)
	queuesRemoved = s.streams.SweepExpired(ctx, s.queueMaxAge, s.isTerminal)

	if cacheRemoved > 0 || queuesRemoved > 0 {
		s.logger.Info("sweep reclaimed",
			slog.Int("cache_entries", cacheRemoved),
			slog.Int("event_queues", queuesRemoved),
		)
	}
	return cacheRemoved, queuesRemoved
}
