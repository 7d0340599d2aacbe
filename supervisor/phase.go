package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/conductor"
)

// PhaseInput names a phase and carries the opaque input it starts from.
// A job is resumable from its persisted PhaseInput alone: after a crash
// the supervisor re-runs the current phase with the same input.
type PhaseInput struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PauseOutcome parks the job awaiting external input. Prompt is shown to
// the responder verbatim; ResumeTo is the phase that runs once a response
// arrives, with the response payload as its input.
type PauseOutcome struct {
	Prompt   json.RawMessage `json:"prompt,omitempty"`
	ResumeTo string          `json:"resume_to"`
}

// Outcome is what a phase returns. Exactly one field is set: Next
// advances to another phase, Pause parks the job, Done completes it.
type Outcome struct {
	Next  *PhaseInput
	Pause *PauseOutcome
	Done  json.RawMessage
}

// Next advances the job to the named phase with the given input.
func Next(phase string, data json.RawMessage) *Outcome {
	return &Outcome{Next: &PhaseInput{Name: phase, Data: data}}
}

// Pause parks the job awaiting input; resumeTo runs when it arrives.
func Pause(prompt json.RawMessage, resumeTo string) *Outcome {
	return &Outcome{Pause: &PauseOutcome{Prompt: prompt, ResumeTo: resumeTo}}
}

// Complete finishes the job with the given result. A nil result is
// stored as JSON null so completion is never ambiguous.
func Complete(result json.RawMessage) *Outcome {
	if result == nil {
		result = json.RawMessage("null")
	}
	return &Outcome{Done: result}
}

// validate rejects outcomes that set zero or multiple branches.
func (o *Outcome) validate() error {
	n := 0
	if o.Next != nil {
		n++
	}
	if o.Pause != nil {
		n++
	}
	if o.Done != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("supervisor: outcome must set exactly one of next, pause, or done (got %d)", n)
	}
	if o.Pause != nil && o.Pause.ResumeTo == "" {
		return fmt.Errorf("supervisor: pause outcome needs a resume phase")
	}
	return nil
}

// PhaseFunc runs one phase of a job kind. It receives the current phase
// name and its input via req, and returns the outcome that drives the
// job forward. Phases run with no core lock held; they observe ctx and
// should return promptly when it is cancelled.
type PhaseFunc func(ctx context.Context, req *Request) (*Outcome, error)

// binding is one registered kind: the phase every new job of the kind
// starts in, and the function that runs its phases.
type binding struct {
	initial string
	fn      PhaseFunc
}

// Registry maps job kinds to their phase logic.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]binding
}

// NewPhaseRegistry creates an empty phase registry.
func NewPhaseRegistry() *Registry {
	return &Registry{handlers: make(map[string]binding)}
}

// Register binds a kind to its phase function. New jobs of the kind
// begin in the initial phase. Re-registering a kind replaces the
// previous binding.
func (r *Registry) Register(kind, initial string, fn PhaseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = binding{initial: initial, fn: fn}
}

// Lookup returns the phase function for a kind, or ErrKindNotRegistered.
func (r *Registry) Lookup(kind string) (PhaseFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", conductor.ErrKindNotRegistered, kind)
	}
	return b.fn, nil
}

// InitialPhase returns the phase a new job of the kind starts in, or
// ErrKindNotRegistered.
func (r *Registry) InitialPhase(kind string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.handlers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", conductor.ErrKindNotRegistered, kind)
	}
	return b.initial, nil
}

// Kinds returns the registered kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
