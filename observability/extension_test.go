package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xraph/conductor/hook"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/observability"
)

// ──────────────────────────────────────────────────
// Fake meter — counts Add/Record calls per instrument
// ──────────────────────────────────────────────────

type countingCounter struct {
	noop.Int64Counter
	n int64
}

func (c *countingCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.n += incr
}

type recordingHistogram struct {
	noop.Float64Histogram
	samples []float64
}

func (h *recordingHistogram) Record(_ context.Context, v float64, _ ...metric.RecordOption) {
	h.samples = append(h.samples, v)
}

type fakeMeter struct {
	noop.Meter
	counters   map[string]*countingCounter
	histograms map[string]*recordingHistogram
}

func newFakeMeter() *fakeMeter {
	return &fakeMeter{
		counters:   make(map[string]*countingCounter),
		histograms: make(map[string]*recordingHistogram),
	}
}

func (m *fakeMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	c := &countingCounter{}
	m.counters[name] = c
	return c, nil
}

func (m *fakeMeter) Float64Histogram(name string, _ ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	h := &recordingHistogram{}
	m.histograms[name] = h
	return h, nil
}

func (m *fakeMeter) count(name string) int64 {
	c, ok := m.counters[name]
	if !ok {
		return -1
	}
	return c.n
}

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *fakeMeter) {
	t.Helper()
	meter := newFakeMeter()
	e, err := observability.NewMetricsExtensionWithMeter(meter)
	if err != nil {
		t.Fatalf("NewMetricsExtensionWithMeter: %v", err)
	}
	return e, meter
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:   id.NewJobID(),
		Kind: "send-email",
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobStarted(t *testing.T) {
	e, meter := newTestExtension(t)
	if err := e.OnJobStarted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := meter.count("conductor.jobs.started"); got != 1 {
		t.Errorf("jobs.started: want 1, got %v", got)
	}
}

func TestMetricsExtension_PauseResume(t *testing.T) {
	e, meter := newTestExtension(t)
	j := newTestJob()
	if err := e.OnJobPaused(context.Background(), j, "pause-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobResumed(context.Background(), j, "pause-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := meter.count("conductor.jobs.paused"); got != 1 {
		t.Errorf("jobs.paused: want 1, got %v", got)
	}
	if got := meter.count("conductor.jobs.resumed"); got != 1 {
		t.Errorf("jobs.resumed: want 1, got %v", got)
	}
}

func TestMetricsExtension_JobCompletedRecordsDuration(t *testing.T) {
	e, meter := newTestExtension(t)
	if err := e.OnJobCompleted(context.Background(), newTestJob(), 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := meter.count("conductor.jobs.completed"); got != 1 {
		t.Errorf("jobs.completed: want 1, got %v", got)
	}

	h, ok := meter.histograms["conductor.job.duration"]
	if !ok || len(h.samples) != 1 {
		t.Fatalf("job.duration: want 1 sample, got %v", h)
	}
	if h.samples[0] != 0.1 {
		t.Errorf("job.duration sample = %v, want 0.1", h.samples[0])
	}
}

func TestMetricsExtension_JobFailed(t *testing.T) {
	e, meter := newTestExtension(t)
	if err := e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := meter.count("conductor.jobs.failed"); got != 1 {
		t.Errorf("jobs.failed: want 1, got %v", got)
	}
}

func TestMetricsExtension_JobCancelled(t *testing.T) {
	e, meter := newTestExtension(t)
	if err := e.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := meter.count("conductor.jobs.cancelled"); got != 1 {
		t.Errorf("jobs.cancelled: want 1, got %v", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, meter := newTestExtension(t)

	reg := hook.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobStarted(ctx, j)
	reg.EmitJobPaused(ctx, j, "pause-1")
	reg.EmitJobResumed(ctx, j, "pause-1")
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobCancelled(ctx, j)

	for _, name := range []string{
		"conductor.jobs.started",
		"conductor.jobs.paused",
		"conductor.jobs.resumed",
		"conductor.jobs.completed",
		"conductor.jobs.failed",
		"conductor.jobs.cancelled",
	} {
		if got := meter.count(name); got != 1 {
			t.Errorf("%s: want 1, got %v", name, got)
		}
	}
}
