package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newTestJob(kind string) *job.Job {
	j := &job.Job{
		ID:     id.NewJobID(),
		Kind:   kind,
		Status: job.StatusPending,
		Phase:  "init",
	}
	j.Entity = conductor.NewEntity()
	return j
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Re-running migrations must be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob("report")
	j.PhaseInput = json.RawMessage(`{"n":1}`)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Kind != "report" || got.Status != job.StatusPending {
		t.Fatalf("got %+v, want created job", got)
	}
	if string(got.PhaseInput) != `{"n":1}` {
		t.Fatalf("PhaseInput = %s", got.PhaseInput)
	}
}

func TestCreateJobDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob("report")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, conductor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob: err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestPutJobRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob("report")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	j.Status = job.StatusAwaitingInput
	j.Phase = "approve"
	j.PauseID = "pause_01h2xcejqtf2nbrexx3vqjhp41"
	j.PausePrompt = json.RawMessage(`{"q":"ok?"}`)
	j.StartedAt = &now
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("PutJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusAwaitingInput || got.Phase != "approve" {
		t.Fatalf("got status=%q phase=%q", got.Status, got.Phase)
	}
	if got.PauseID != j.PauseID || string(got.PausePrompt) != `{"q":"ok?"}` {
		t.Fatalf("pause fields lost: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, now)
	}
}

func TestPutJobNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	j := newTestJob("ghost")
	if err := s.PutJob(context.Background(), j); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestListJobsByStatusOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var want []id.JobID
	for i := 0; i < 3; i++ {
		j := newTestJob("batch")
		j.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		j.UpdatedAt = j.CreatedAt
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		want = append(want, j.ID)
	}

	other := newTestJob("batch")
	other.Status = job.StatusRunning
	if err := s.CreateJob(ctx, other); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.ListJobsByStatus(ctx, job.StatusPending)
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, j := range got {
		if j.ID != want[i] {
			t.Fatalf("order mismatch at %d: %s", i, j.ID)
		}
	}
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob("report")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("second DeleteJob: err = %v, want ErrJobNotFound", err)
	}
}
