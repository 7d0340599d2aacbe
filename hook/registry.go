package hook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobPausedEntry struct {
	name string
	hook JobPaused
}

type jobResumedEntry struct {
	name string
	hook JobResumed
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobStarted   []jobStartedEntry
	jobPaused    []jobPausedEntry
	jobResumed   []jobResumedEntry
	jobCompleted []jobCompletedEntry
	jobFailed    []jobFailedEntry
	jobCancelled []jobCancelledEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobPaused); ok {
		r.jobPaused = append(r.jobPaused, jobPausedEntry{name, h})
	}
	if h, ok := e.(JobResumed); ok {
		r.jobResumed = append(r.jobResumed, jobResumedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.call("OnJobStarted", e.name, func() error {
			return e.hook.OnJobStarted(ctx, j)
		})
	}
}

// EmitJobPaused notifies all extensions that implement JobPaused.
func (r *Registry) EmitJobPaused(ctx context.Context, j *job.Job, pauseID string) {
	for _, e := range r.jobPaused {
		r.call("OnJobPaused", e.name, func() error {
			return e.hook.OnJobPaused(ctx, j, pauseID)
		})
	}
}

// EmitJobResumed notifies all extensions that implement JobResumed.
func (r *Registry) EmitJobResumed(ctx context.Context, j *job.Job, pauseID string) {
	for _, e := range r.jobResumed {
		r.call("OnJobResumed", e.name, func() error {
			return e.hook.OnJobResumed(ctx, j, pauseID)
		})
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.call("OnJobCompleted", e.name, func() error {
			return e.hook.OnJobCompleted(ctx, j, elapsed)
		})
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.call("OnJobFailed", e.name, func() error {
			return e.hook.OnJobFailed(ctx, j, jobErr)
		})
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		r.call("OnJobCancelled", e.name, func() error {
			return e.hook.OnJobCancelled(ctx, j)
		})
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.call("OnShutdown", e.name, func() error {
			return e.hook.OnShutdown(ctx)
		})
	}
}

// call runs a single hook, logging errors and containing panics.
// Hooks run inside supervisor goroutines, so a panicking extension must
// never take a job down with it. Errors are never propagated either.
func (r *Registry) call(hookName, extName string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logHookError(hookName, extName, fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := fn(); err != nil {
		r.logHookError(hookName, extName, err)
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
