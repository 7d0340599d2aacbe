package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor/hook"
	"github.com/xraph/conductor/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension    = (*MetricsExtension)(nil)
	_ hook.JobStarted   = (*MetricsExtension)(nil)
	_ hook.JobPaused    = (*MetricsExtension)(nil)
	_ hook.JobResumed   = (*MetricsExtension)(nil)
	_ hook.JobCompleted = (*MetricsExtension)(nil)
	_ hook.JobFailed    = (*MetricsExtension)(nil)
	_ hook.JobCancelled = (*MetricsExtension)(nil)
)

// MetricsExtension records job lifecycle metrics via the OpenTelemetry
// metric API. Register it as a conductor extension to automatically
// track start rates, completion counts, failure rates, pause/resume
// counts, and end-to-end job duration. Instruments are recorded against
// whatever MeterProvider the host application has installed.
type MetricsExtension struct {
	jobsStarted   metric.Int64Counter
	jobsPaused    metric.Int64Counter
	jobsResumed   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsCancelled metric.Int64Counter
	jobDuration   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithMeter(otel.Meter("github.com/xraph/conductor/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided Meter. Useful for tests and for hosts that scope meters.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	var err error

	if m.jobsStarted, err = meter.Int64Counter("conductor.jobs.started",
		metric.WithDescription("Jobs started by the supervisor")); err != nil {
		return nil, err
	}
	if m.jobsPaused, err = meter.Int64Counter("conductor.jobs.paused",
		metric.WithDescription("Jobs parked awaiting external input")); err != nil {
		return nil, err
	}
	if m.jobsResumed, err = meter.Int64Counter("conductor.jobs.resumed",
		metric.WithDescription("Paused jobs resumed by a response")); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter("conductor.jobs.completed",
		metric.WithDescription("Jobs finished successfully")); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = meter.Int64Counter("conductor.jobs.failed",
		metric.WithDescription("Jobs failed terminally")); err != nil {
		return nil, err
	}
	if m.jobsCancelled, err = meter.Int64Counter("conductor.jobs.cancelled",
		metric.WithDescription("Jobs cancelled by request")); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("conductor.job.duration",
		metric.WithDescription("End-to-end job duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", j.Kind))
}

// OnJobStarted implements hook.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.jobsStarted.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobPaused implements hook.JobPaused.
func (m *MetricsExtension) OnJobPaused(ctx context.Context, j *job.Job, _ string) error {
	m.jobsPaused.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobResumed implements hook.JobResumed.
func (m *MetricsExtension) OnJobResumed(ctx context.Context, j *job.Job, _ string) error {
	m.jobsResumed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobsCompleted.Add(ctx, 1, kindAttr(j))
	m.jobDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("kind", j.Kind)))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.jobsCancelled.Add(ctx, 1, kindAttr(j))
	return nil
}
