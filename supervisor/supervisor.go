// Package supervisor drives jobs through their phases: it owns every
// status write, publishes the event stream, parks jobs on pause
// requests, and resumes interrupted work after a crash.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/cache"
	"github.com/xraph/conductor/hook"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/stream"
)

// errSuperseded aborts a mutation whose premise no longer holds, e.g.
// a phase-boundary write racing a cancellation. Never surfaces to callers.
var errSuperseded = errors.New("supervisor: job state superseded")

// run is the in-process bookkeeping for one supervised job. Events are
// published from the supervise goroutine and from phase Progress calls;
// pubMu makes sequence assignment and the queue push one step, so
// sequence numbers are strictly increasing in queue order.
type run struct {
	jobID  id.JobID
	cancel context.CancelFunc

	// resume wakes a parked run after a pause is resolved. Buffered so
	// the responder never blocks.
	resume chan struct{}

	pubMu       sync.Mutex
	seq         uint64       // guarded by pubMu
	lastPublish atomic.Int64 // unix nanos of the last published event
}

func (r *run) sincePublish() time.Duration {
	last := r.lastPublish.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// Supervisor executes registered phase logic against the job cache and
// event stream. Create one per process; it is safe for concurrent use.
type Supervisor struct {
	cache   *cache.Cache
	streams *stream.Registry
	phases  *Registry
	hooks   *hook.Registry
	logger  *slog.Logger

	heartbeat  time.Duration
	retry      backoff.Strategy
	maxRetries int

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithHooks sets the lifecycle extension registry.
func WithHooks(h *hook.Registry) Option {
	return func(s *Supervisor) { s.hooks = h }
}

// WithHeartbeatInterval sets how long a phase may stay silent before a
// heartbeat event is published on its behalf.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.heartbeat = d }
}

// WithBackoff sets the retry delay strategy for failed phases.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Supervisor) { s.retry = b }
}

// WithMaxPhaseRetries sets how many times a failed phase is retried
// before the job fails terminally. Zero disables retries.
func WithMaxPhaseRetries(n int) Option {
	return func(s *Supervisor) { s.maxRetries = n }
}

// New creates a Supervisor over the given cache, event registry, and
// phase registry.
func New(c *cache.Cache, streams *stream.Registry, phases *Registry, opts ...Option) *Supervisor {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cache:      c,
		streams:    streams,
		phases:     phases,
		logger:     slog.Default(),
		heartbeat:  10 * time.Second,
		retry:      backoff.DefaultStrategy(),
		maxRetries: 3,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		runs:       make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hooks == nil {
		s.hooks = hook.NewRegistry(s.logger)
	}
	return s
}

// ──────────────────────────────────────────────────
// Public operations
// ──────────────────────────────────────────────────

// StartJob creates a job in pending state and spawns its supervise
// goroutine. The kind must have registered phase logic; the job is
// created in the kind's initial phase with the input as that phase's
// input.
func (s *Supervisor) StartJob(ctx context.Context, kind string, input json.RawMessage) (*job.Job, error) {
	initial, err := s.phases.InitialPhase(kind)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:     conductor.NewEntity(),
		ID:         id.NewJobID(),
		Kind:       kind,
		Status:     job.StatusPending,
		Phase:      initial,
		PhaseInput: input,
	}
	created, err := s.cache.Create(ctx, j)
	if err != nil {
		return nil, err
	}

	s.logger.Info("job started",
		slog.String("job_id", created.ID.String()),
		slog.String("kind", kind),
	)
	s.launch(created.ID)
	return created, nil
}

// RespondToPause delivers a response to a parked job. The check against
// the outstanding pause ID and the status flip are one atomic update, so
// exactly one response wins; every other caller gets ErrStaleResponse.
// The response payload becomes the input of the resumed phase.
func (s *Supervisor) RespondToPause(ctx context.Context, jobID id.JobID, pauseID string, response json.RawMessage) error {
	if pauseID == "" {
		return conductor.ErrStaleResponse
	}
	return s.resolvePause(ctx, jobID, pauseID, response)
}

// Respond delivers a response to a parked job without a pause token: it
// resolves whatever pause is currently outstanding. A job that is not
// awaiting input gets ErrStaleResponse. Resolution stays exactly-once;
// with concurrent responders, use RespondToPause so every caller names
// the pause it is answering.
func (s *Supervisor) Respond(ctx context.Context, jobID id.JobID, response json.RawMessage) error {
	return s.resolvePause(ctx, jobID, "", response)
}

// resolvePause flips an awaiting job back to running. An empty match
// resolves the outstanding pause unconditionally; otherwise the pause ID
// must match.
func (s *Supervisor) resolvePause(ctx context.Context, jobID id.JobID, match string, response json.RawMessage) error {
	var resolved string
	updated, err := s.cache.Update(ctx, jobID, func(x *job.Job) error {
		if x.Status != job.StatusAwaitingInput || x.PauseID == "" {
			return conductor.ErrStaleResponse
		}
		if match != "" && x.PauseID != match {
			return conductor.ErrStaleResponse
		}
		resolved = x.PauseID
		x.Status = job.StatusRunning
		x.PhaseInput = response
		x.PauseID = ""
		x.PausePrompt = nil
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("pause resolved",
		slog.String("job_id", jobID.String()),
		slog.String("pause_id", resolved),
		slog.String("resume_phase", updated.Phase),
	)
	s.hooks.EmitJobResumed(ctx, updated, resolved)
	s.wake(jobID)
	return nil
}

// CancelJob moves any non-terminal job to cancelled. The status change
// is acknowledged immediately; a phase already executing stops
// cooperatively at its next boundary.
func (s *Supervisor) CancelJob(ctx context.Context, jobID id.JobID) error {
	updated, err := s.cache.Update(ctx, jobID, func(x *job.Job) error {
		if x.Status.Terminal() {
			return conductor.ErrIllegalTransition
		}
		x.Status = job.StatusCancelled
		x.PauseID = ""
		x.PausePrompt = nil
		now := time.Now().UTC()
		x.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.streams.MarkTerminal(jobID)
	s.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	s.hooks.EmitJobCancelled(ctx, updated)

	s.mu.Lock()
	r := s.runs[jobID.String()]
	s.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	return nil
}

// Recover reloads every non-terminal job from the store and spawns a
// supervise goroutine for it: running jobs re-run their current phase
// from its persisted input, parked jobs go back to waiting for their
// response. Statuses are scanned in parallel.
func (s *Supervisor) Recover(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, status := range []job.Status{job.StatusPending, job.StatusRunning, job.StatusAwaitingInput} {
		g.Go(func() error {
			jobs, err := s.cache.ListByStatus(gctx, status)
			if err != nil {
				return fmt.Errorf("recover %s jobs: %w", status, err)
			}
			for _, j := range jobs {
				s.cache.Warm(j)
				s.logger.Info("job recovered",
					slog.String("job_id", j.ID.String()),
					slog.String("status", string(j.Status)),
					slog.String("phase", j.Phase),
				)
				s.launch(j.ID)
			}
			return nil
		})
	}
	return g.Wait()
}

// FlagStale returns running jobs that have published nothing for longer
// than window. Flagging is observational: a slow phase is not failed or
// cancelled on the supervisor's behalf.
func (s *Supervisor) FlagStale(ctx context.Context, window time.Duration) ([]*job.Job, error) {
	running, err := s.cache.ListByStatus(ctx, job.StatusRunning)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-window)
	var stale []*job.Job
	for _, j := range running {
		last := j.LastEventAt
		if last == nil {
			last = j.StartedAt
		}
		if last == nil || !last.Before(cutoff) {
			continue
		}
		s.logger.Warn("job stale",
			slog.String("job_id", j.ID.String()),
			slog.String("phase", j.Phase),
			slog.Time("last_activity", *last),
		)
		stale = append(stale, j)
	}
	return stale, nil
}

// IsJobTerminal reports whether a job has reached a terminal state.
// Wired into the sweeper as its eligibility check.
func (s *Supervisor) IsJobTerminal(ctx context.Context, jobID id.JobID) (bool, error) {
	j, err := s.cache.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return j.Status.Terminal(), nil
}

// ActiveRuns returns the number of in-process supervise goroutines.
func (s *Supervisor) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Stop cancels every run context and waits for the supervise goroutines
// to reach a boundary. Interrupted jobs keep their persisted status and
// are picked up by Recover on the next start.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: drain interrupted: %w", ctx.Err())
	}
}

// ──────────────────────────────────────────────────
// Run loop
// ──────────────────────────────────────────────────

// launch spawns the supervise goroutine for a job unless one is already
// active.
func (s *Supervisor) launch(jobID id.JobID) {
	key := jobID.String()

	s.mu.Lock()
	if _, exists := s.runs[key]; exists {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(s.baseCtx)
	r := &run{jobID: jobID, cancel: cancel, resume: make(chan struct{}, 1)}
	s.runs[key] = r
	s.wg.Add(1)
	s.mu.Unlock()

	go s.supervise(runCtx, r)
}

// supervise is the per-job driver loop. Each iteration reads the
// current status with no lock held and acts on it; all status writes go
// through cache.Update, so a concurrent cancel can never be overwritten.
func (s *Supervisor) supervise(ctx context.Context, r *run) {
	key := r.jobID.String()
	defer func() {
		r.cancel()
		s.mu.Lock()
		delete(s.runs, key)
		s.mu.Unlock()
		s.wg.Done()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		j, err := s.cache.Get(ctx, r.jobID)
		if err != nil {
			s.logger.Error("supervise: job load failed",
				slog.String("job_id", key),
				slog.String("error", err.Error()),
			)
			return
		}

		switch {
		case j.Status.Terminal():
			return

		case j.Status == job.StatusPending:
			started, err := s.cache.Update(ctx, r.jobID, func(x *job.Job) error {
				if x.Status != job.StatusPending {
					return errSuperseded
				}
				x.Status = job.StatusRunning
				// Records created outside StartJob may predate the phase
				// being named at creation.
				if x.Phase == "" {
					if initial, ierr := s.phases.InitialPhase(x.Kind); ierr == nil {
						x.Phase = initial
					}
				}
				now := time.Now().UTC()
				x.StartedAt = &now
				return nil
			})
			if errors.Is(err, errSuperseded) {
				continue
			}
			if err != nil {
				s.logger.Error("supervise: start transition failed",
					slog.String("job_id", key),
					slog.String("error", err.Error()),
				)
				return
			}
			s.hooks.EmitJobStarted(ctx, started)

		case j.Status == job.StatusAwaitingInput:
			select {
			case <-ctx.Done():
				// Stays parked durably; Recover re-parks it.
				return
			case <-r.resume:
			}

		case j.Status == job.StatusRunning:
			if stop := s.runPhase(ctx, r, j); stop {
				return
			}
		}
	}
}

// runPhase executes the job's current phase and applies its outcome.
// Returns true when the supervise loop should stop.
func (s *Supervisor) runPhase(ctx context.Context, r *run, j *job.Job) bool {
	fn, err := s.phases.Lookup(j.Kind)
	if err != nil {
		s.fail(ctx, r, j.ID, j.Phase, err)
		return true
	}

	input := PhaseInput{Name: j.Phase, Data: j.PhaseInput}
	s.publish(r, j.ID, stream.EventPhaseStart, input.Name, "", nil)

	out, err := s.executeWithRetry(ctx, r, j, fn, input)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown or cancellation: stop at the boundary without
			// touching the stored status.
			return true
		}
		s.fail(ctx, r, j.ID, input.Name, err)
		return true
	}
	if verr := out.validate(); verr != nil {
		s.fail(ctx, r, j.ID, input.Name, verr)
		return true
	}

	switch {
	case out.Next != nil:
		return s.applyNext(ctx, r, j.ID, input.Name, out.Next)
	case out.Pause != nil:
		return s.applyPause(ctx, r, j.ID, input.Name, out.Pause)
	default:
		return s.applyComplete(ctx, r, j.ID, input.Name, out.Done)
	}
}

type phaseResult struct {
	out *Outcome
	err error
}

// executeWithRetry runs the phase function, retrying transient failures
// per the backoff strategy, and publishing heartbeats while the phase
// stays silent.
func (s *Supervisor) executeWithRetry(ctx context.Context, r *run, j *job.Job, fn PhaseFunc, input PhaseInput) (*Outcome, error) {
	for attempt := 0; ; attempt++ {
		out, err := s.executePhase(ctx, r, j, fn, input)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= s.maxRetries {
			return nil, err
		}

		delay := s.retry.Delay(attempt + 1)
		s.logger.Warn("phase failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.String("phase", input.Name),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// executePhase runs fn in its own goroutine so the supervise loop can
// publish heartbeats while the phase works. Phase panics become phase
// errors instead of taking the process down.
func (s *Supervisor) executePhase(ctx context.Context, r *run, j *job.Job, fn PhaseFunc, input PhaseInput) (*Outcome, error) {
	req := &Request{
		JobID: j.ID,
		Kind:  j.Kind,
		Phase: input.Name,
		Input: input.Data,
		sup:   s,
		run:   r,
	}

	resCh := make(chan phaseResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- phaseResult{err: fmt.Errorf("supervisor: phase %q panicked: %v", input.Name, rec)}
			}
		}()
		out, err := fn(ctx, req)
		resCh <- phaseResult{out: out, err: err}
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case res := <-resCh:
			return res.out, res.err
		case <-ticker.C:
			// Slack absorbs the gap between the last publish and the
			// ticker starting.
			if r.sincePublish() >= s.heartbeat*9/10 {
				s.publish(r, j.ID, stream.EventHeartbeat, input.Name, "", nil)
			}
		}
	}
}

// applyNext persists the next phase boundary. The mutation re-checks
// the status so a cancel that landed mid-phase wins.
func (s *Supervisor) applyNext(ctx context.Context, r *run, jobID id.JobID, phase string, next *PhaseInput) bool {
	s.publish(r, jobID, stream.EventPhaseComplete, phase, "", nil)

	_, err := s.cache.Update(ctx, jobID, func(x *job.Job) error {
		if x.Status != job.StatusRunning {
			return errSuperseded
		}
		x.Phase = next.Name
		x.PhaseInput = next.Data
		now := time.Now().UTC()
		x.LastEventAt = &now
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return true
	}
	if err != nil {
		s.logger.Error("phase boundary write failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return true
	}
	return false
}

// applyPause persists the pause and announces it. The prompt rides
// inside the pause_requested event so subscribers need no second fetch.
func (s *Supervisor) applyPause(ctx context.Context, r *run, jobID id.JobID, phase string, pause *PauseOutcome) bool {
	pauseID := id.NewPauseID().String()

	updated, err := s.cache.Update(ctx, jobID, func(x *job.Job) error {
		if x.Status != job.StatusRunning {
			return errSuperseded
		}
		x.Status = job.StatusAwaitingInput
		x.PauseID = pauseID
		x.PausePrompt = pause.Prompt
		x.Phase = pause.ResumeTo
		x.PhaseInput = nil
		now := time.Now().UTC()
		x.LastEventAt = &now
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return true
	}
	if err != nil {
		s.logger.Error("pause write failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return true
	}

	s.publish(r, jobID, stream.EventPauseRequested, phase, pauseID, pause.Prompt)
	s.logger.Info("job paused",
		slog.String("job_id", jobID.String()),
		slog.String("pause_id", pauseID),
	)
	s.hooks.EmitJobPaused(ctx, updated, pauseID)
	return false
}

// applyComplete persists the terminal result and announces completion.
func (s *Supervisor) applyComplete(ctx context.Context, r *run, jobID id.JobID, phase string, result json.RawMessage) bool {
	s.publish(r, jobID, stream.EventPhaseComplete, phase, "", nil)

	updated, err := s.cache.Update(ctx, jobID, func(x *job.Job) error {
		if x.Status != job.StatusRunning {
			return errSuperseded
		}
		x.Status = job.StatusCompleted
		x.Result = result
		x.Phase = ""
		x.PhaseInput = nil
		now := time.Now().UTC()
		x.CompletedAt = &now
		x.LastEventAt = &now
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return true
	}
	if err != nil {
		s.logger.Error("completion write failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return true
	}

	s.publish(r, jobID, stream.EventCompleted, phase, "", result)
	s.streams.MarkTerminal(jobID)

	var elapsed time.Duration
	if updated.StartedAt != nil {
		elapsed = updated.CompletedAt.Sub(*updated.StartedAt)
	}
	s.logger.Info("job completed",
		slog.String("job_id", jobID.String()),
		slog.Duration("elapsed", elapsed),
	)
	s.hooks.EmitJobCompleted(ctx, updated, elapsed)
	return true
}

// fail terminates the job after retries are exhausted. The error event
// goes out before the failed status is persisted, so a subscriber that
// sees the job failed can always find the reason in its queue. A job
// that already reached a terminal state, e.g. through a mid-phase
// cancel, gets no error event for a failure that will never be recorded.
func (s *Supervisor) fail(ctx context.Context, r *run, jobID id.JobID, phase string, cause error) {
	if j, err := s.cache.Get(ctx, jobID); err == nil && j.Status.Terminal() {
		s.streams.MarkTerminal(jobID)
		return
	}

	s.publish(r, jobID, stream.EventError, phase, cause.Error(), nil)

	updated, err := s.cache.Update(ctx, jobID, func(x *job.Job) error {
		if x.Status.Terminal() {
			return errSuperseded
		}
		x.Status = job.StatusFailed
		x.Error = cause.Error()
		now := time.Now().UTC()
		x.CompletedAt = &now
		return nil
	})
	s.streams.MarkTerminal(jobID)
	if errors.Is(err, errSuperseded) {
		return
	}
	if err != nil {
		s.logger.Error("failure write failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Warn("job failed",
		slog.String("job_id", jobID.String()),
		slog.String("phase", phase),
		slog.String("error", cause.Error()),
	)
	s.hooks.EmitJobFailed(ctx, updated, cause)
}

// publish builds and sends an event on the job's queue. The heartbeat
// ticker and phase Progress calls publish concurrently, so the sequence
// draw and the queue push happen under one lock: an event's position in
// the queue always matches its sequence number.
func (s *Supervisor) publish(r *run, jobID id.JobID, typ stream.EventType, phase, message string, data json.RawMessage) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.seq++
	s.streams.Publish(jobID, &stream.Event{
		ID:        id.NewEventID(),
		JobID:     jobID,
		Type:      typ,
		Phase:     phase,
		Message:   message,
		Data:      data,
		Sequence:  r.seq,
		Timestamp: time.Now().UTC(),
	})
	r.lastPublish.Store(time.Now().UnixNano())
}

// wake nudges a parked run after its pause is resolved.
func (s *Supervisor) wake(jobID id.JobID) {
	s.mu.Lock()
	r := s.runs[jobID.String()]
	s.mu.Unlock()

	if r == nil {
		// Durable state already says running; the job proceeds after the
		// next Recover.
		s.logger.Warn("no active run to wake", slog.String("job_id", jobID.String()))
		return
	}
	select {
	case r.resume <- struct{}{}:
	default:
	}
}

// ──────────────────────────────────────────────────
// Phase-facing request
// ──────────────────────────────────────────────────

// Request is what a phase function receives: the job coordinates, the
// phase input, and a progress reporter.
type Request struct {
	JobID id.JobID
	Kind  string
	Phase string
	Input json.RawMessage

	sup *Supervisor
	run *run
}

// Progress publishes a progress event and persists the advisory
// progress fields. Safe to call repeatedly; later calls overwrite.
func (r *Request) Progress(ctx context.Context, message string, percent int) {
	r.sup.publish(r.run, r.JobID, stream.EventProgress, r.Phase, message, nil)

	_, err := r.sup.cache.Update(ctx, r.JobID, func(x *job.Job) error {
		if x.Status != job.StatusRunning {
			return errSuperseded
		}
		x.ProgressMessage = message
		x.ProgressPercent = percent
		now := time.Now().UTC()
		x.LastEventAt = &now
		return nil
	})
	if err != nil && !errors.Is(err, errSuperseded) {
		r.sup.logger.Warn("progress update failed",
			slog.String("job_id", r.JobID.String()),
			slog.String("error", err.Error()),
		)
	}
}
