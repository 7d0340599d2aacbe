// Package job defines the Job model, its lifecycle state machine, and the
// persistence contract a durable backend must satisfy.
package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job has been created but not yet executed.
	StatusPending Status = "pending"
	// StatusRunning means the supervisor is driving the job's phases.
	StatusRunning Status = "running"
	// StatusAwaitingInput means the job is parked on a pause request,
	// waiting for a human response.
	StatusAwaitingInput Status = "awaiting_input"
	// StatusCompleted means all phases finished and a result was produced.
	StatusCompleted Status = "completed"
	// StatusFailed means a phase error terminated the job.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions is the full set of permitted status transitions.
// Anything not listed here is rejected with ErrIllegalTransition.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusAwaitingInput: true,
		StatusCompleted:     true,
		StatusFailed:        true,
		StatusCancelled:     true,
	},
	StatusAwaitingInput: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidateTransition returns ErrIllegalTransition unless from→to is a
// legal lifecycle transition. Staying in the same state is always
// permitted (phase-boundary updates touch fields, not status).
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if legalTransitions[from][to] {
		return nil
	}
	return conductor.ErrIllegalTransition
}

// Job represents a tracked unit of multi-phase work with durable identity.
// The supervisor is the only writer of Status, Phase, Result, and Error.
type Job struct {
	conductor.Entity

	ID   id.JobID `json:"id"`
	Kind string   `json:"kind"`

	Status Status `json:"status"`

	// Phase is the name of the current processing stage; empty before
	// the job first runs. PhaseInput is the input the current phase was
	// (or will be) started with — the unit of restart granularity.
	Phase      string          `json:"phase,omitempty"`
	PhaseInput json.RawMessage `json:"phase_input,omitempty"`

	// Advisory progress fields, overwritten on each update.
	ProgressMessage string `json:"progress_message,omitempty"`
	ProgressPercent int    `json:"progress_percent,omitempty"`

	// Result is set only when Status is completed; Error only when failed.
	// Both are opaque to the core.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Pause bookkeeping. PauseID identifies the outstanding pause, if
	// any; PausePrompt carries the phase-defined prompt so a subscriber
	// (or a restarted process) never needs a separate fetch to read it.
	PauseID     string          `json:"pause_id,omitempty"`
	PausePrompt json.RawMessage `json:"pause_prompt,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LastEventAt is when the job last published a real progress event.
	// Used for operator-visible staleness flagging only.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// Paused reports whether the job has an outstanding pause request.
func (j *Job) Paused() bool {
	return j.Status == StatusAwaitingInput && j.PauseID != ""
}

// Clone returns a deep-enough copy of the job: scalar fields are copied
// and the opaque byte payloads are duplicated so callers can mutate the
// copy without racing the cache.
func (j *Job) Clone() *Job {
	cp := *j
	cp.PhaseInput = cloneRaw(j.PhaseInput)
	cp.Result = cloneRaw(j.Result)
	cp.PausePrompt = cloneRaw(j.PausePrompt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.LastEventAt = cloneTime(j.LastEventAt)
	return &cp
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
