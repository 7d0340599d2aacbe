package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store/memory"
)

// countingStore wraps the memory store and counts GetJob calls.
type countingStore struct {
	job.Store
	gets atomic.Int64
}

func (s *countingStore) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	s.gets.Add(1)
	return s.Store.GetJob(ctx, jobID)
}

func newJob(kind string, status job.Status) *job.Job {
	return &job.Job{
		Entity: conductor.NewEntity(),
		ID:     id.NewJobID(),
		Kind:   kind,
		Status: status,
	}
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()
	c := New(memory.New())
	ctx := context.Background()

	j := newJob("report", job.StatusPending)
	if _, err := c.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Create(ctx, j); !errors.Is(err, conductor.ErrJobAlreadyExists) {
		t.Fatalf("second Create = %v, want ErrJobAlreadyExists", err)
	}
}

func TestConcurrentCreateSameID(t *testing.T) {
	t.Parallel()
	c := New(memory.New())
	ctx := context.Background()

	j := newJob("report", job.StatusPending)

	const n = 50
	var dupes atomic.Int64
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Create(ctx, j.Clone()); errors.Is(err, conductor.ErrJobAlreadyExists) {
				dupes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := dupes.Load(); got != n-1 {
		t.Errorf("duplicate errors = %d, want %d", got, n-1)
	}
}

func TestGetColdCacheCoalesced(t *testing.T) {
	t.Parallel()

	s := &countingStore{Store: memory.New()}
	ctx := context.Background()

	j := newJob("report", job.StatusRunning)
	if err := s.Store.CreateJob(ctx, j); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	c := New(s)

	const n = 50
	results := make([]*job.Job, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Get(ctx, j.ID)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = got
		}()
	}
	wg.Wait()

	// All callers see identical values.
	for i, got := range results {
		if got == nil {
			t.Fatalf("result %d is nil", i)
		}
		if got.ID.String() != j.ID.String() || got.Status != j.Status || got.Kind != j.Kind {
			t.Errorf("result %d diverged: %+v", i, got)
		}
	}

	if c.Len() != 1 {
		t.Errorf("cache holds %d entries, want 1", c.Len())
	}
	// Racing misses must collapse to a small number of store reads, not
	// one per caller. Singleflight guarantees one in-flight read at a time.
	if s.gets.Load() >= n/2 {
		t.Errorf("store reads = %d for %d racing misses, want far fewer", s.gets.Load(), n)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	c := New(memory.New())

	_, err := c.Get(context.Background(), id.NewJobID())
	if !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("Get unknown = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateTransitionChecked(t *testing.T) {
	t.Parallel()
	c := New(memory.New())
	ctx := context.Background()

	j := newJob("report", job.StatusPending)
	if _, err := c.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Pending → Completed is illegal.
	_, err := c.Update(ctx, j.ID, func(u *job.Job) error {
		u.Status = job.StatusCompleted
		return nil
	})
	if !errors.Is(err, conductor.ErrIllegalTransition) {
		t.Fatalf("illegal update = %v, want ErrIllegalTransition", err)
	}

	// The job is unchanged.
	got, err := c.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("status after rejected update = %s, want pending", got.Status)
	}
}

func TestUpdateLinearizable(t *testing.T) {
	t.Parallel()
	c := New(memory.New())
	ctx := context.Background()

	j := newJob("report", job.StatusPending)
	if _, err := c.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Each update observes the previous one's progress value.
	const n = 100
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Update(ctx, j.ID, func(u *job.Job) error {
				u.ProgressPercent++
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := c.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ProgressPercent != n {
		t.Errorf("ProgressPercent = %d, want %d (lost updates)", got.ProgressPercent, n)
	}
}

func TestCacheMatchesStoreAfterUpdate(t *testing.T) {
	t.Parallel()

	s := memory.New()
	c := New(s)
	ctx := context.Background()

	j := newJob("report", job.StatusPending)
	if _, err := c.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Update(ctx, j.ID, func(u *job.Job) error {
		u.Status = job.StatusRunning
		u.Phase = "analyze"
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cached, err := c.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("cache Get: %v", err)
	}
	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("store Get: %v", err)
	}
	if cached.Status != stored.Status || cached.Phase != stored.Phase {
		t.Errorf("cache %s/%s diverged from store %s/%s",
			cached.Status, cached.Phase, stored.Status, stored.Phase)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	c := New(memory.New(), WithTTL(0))
	ctx := context.Background()

	done := newJob("report", job.StatusPending)
	running := newJob("report", job.StatusRunning)
	if _, err := c.Create(ctx, done); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(ctx, running); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(ctx, done.ID, func(u *job.Job) error {
		u.Status = job.StatusCancelled
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	// Everything is older than maxAge=10ms, but only the terminal entry
	// may go.
	if got := c.SweepExpired(10 * time.Millisecond); got != 1 {
		t.Errorf("SweepExpired removed %d entries, want 1", got)
	}
	if c.Len() != 1 {
		t.Errorf("cache holds %d entries after sweep, want 1", c.Len())
	}
	if _, err := c.Get(ctx, running.ID); err != nil {
		t.Errorf("running job evicted by sweep: %v", err)
	}
}
