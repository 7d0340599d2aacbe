package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cache"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/stream"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(memory.New())
}

func seedJob(t *testing.T, c *cache.Cache, status job.Status) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity: conductor.NewEntity(),
		ID:     id.NewJobID(),
		Kind:   "sweep-test",
		Status: status,
	}
	created, err := c.Create(context.Background(), j)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created
}

func terminalViaCache(c *cache.Cache) stream.TerminalFn {
	return func(ctx context.Context, jobID id.JobID) (bool, error) {
		j, err := c.Get(ctx, jobID)
		if err != nil {
			return false, err
		}
		return j.Status.Terminal(), nil
	}
}

func TestSweepRemovesAgedTerminalQueues(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	streams := stream.NewRegistry()

	done := seedJob(t, c, job.StatusCompleted)
	running := seedJob(t, c, job.StatusRunning)
	streams.Register(done.ID)
	streams.Register(running.ID)
	streams.MarkTerminal(done.ID)

	s := New(c, streams, terminalViaCache(c),
		WithQueueMaxAge(time.Hour),
		WithCacheTTL(time.Hour),
	)

	// Both queues are fresh, so nothing is reclaimed yet.
	_, queues := s.Sweep(context.Background())
	if queues != 0 {
		t.Fatalf("fresh sweep removed %d queues, want 0", queues)
	}

	// With a zero max age, only the terminal job's queue is eligible.
	s.queueMaxAge = 0
	_, queues = s.Sweep(context.Background())
	if queues != 1 {
		t.Fatalf("aged sweep removed %d queues, want 1", queues)
	}
	if _, err := streams.Get(done.ID); err == nil {
		t.Fatal("terminal job's queue should be gone")
	}
	if _, err := streams.Get(running.ID); err != nil {
		t.Fatalf("running job's queue should survive: %v", err)
	}
}

func TestSweepNeverRemovesRunningQueues(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	streams := stream.NewRegistry()

	running := seedJob(t, c, job.StatusRunning)
	streams.Register(running.ID)

	s := New(c, streams, terminalViaCache(c), WithQueueMaxAge(0))

	for range 3 {
		if _, queues := s.Sweep(context.Background()); queues != 0 {
			t.Fatal("sweep removed a queue for a running job")
		}
	}
	if _, err := streams.Get(running.ID); err != nil {
		t.Fatalf("running job's queue should survive: %v", err)
	}
}

func TestSweepRemovesOrphanQueues(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	streams := stream.NewRegistry()

	// A queue whose job never made it to the store.
	orphan := id.NewJobID()
	streams.Register(orphan)

	s := New(c, streams, terminalViaCache(c), WithQueueMaxAge(0))

	if _, queues := s.Sweep(context.Background()); queues != 1 {
		t.Fatal("orphan queue should be reclaimed")
	}
}

func TestSweepEvictsIdleTerminalCacheEntries(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	streams := stream.NewRegistry()

	seedJob(t, c, job.StatusCompleted)
	seedJob(t, c, job.StatusRunning)

	s := New(c, streams, terminalViaCache(c), WithCacheTTL(0))

	entries, _ := s.Sweep(context.Background())
	if entries != 1 {
		t.Fatalf("sweep evicted %d cache entries, want 1", entries)
	}
	if c.Len() != 1 {
		t.Fatalf("cache holds %d entries, want 1", c.Len())
	}
}

func TestSweeperStartStop(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	streams := stream.NewRegistry()

	done := seedJob(t, c, job.StatusCompleted)
	streams.Register(done.ID)
	streams.MarkTerminal(done.ID)

	s := New(c, streams, terminalViaCache(c),
		WithInterval(10*time.Millisecond),
		WithQueueMaxAge(0),
		WithCacheTTL(0),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Start is idempotent.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := streams.Get(done.ID); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background loop never swept the terminal queue")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop is idempotent.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
