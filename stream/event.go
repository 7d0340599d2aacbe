// Package stream provides the per-job event queue registry: a bounded,
// ordered channel of progress notifications for each job, with at most
// one active subscriber at a time. Publishing never blocks phase
// execution — a full queue drops its oldest unread event instead.
package stream

import (
	"encoding/json"
	"time"

	"github.com/xraph/conductor/id"
)

// EventType identifies the kind of progress notification.
type EventType string

const (
	EventPhaseStart     EventType = "phase_start"
	EventPhaseComplete  EventType = "phase_complete"
	EventProgress       EventType = "progress"
	EventPauseRequested EventType = "pause_requested"
	EventError          EventType = "error"
	EventCompleted      EventType = "completed"
	EventHeartbeat      EventType = "heartbeat"
)

// Event is one progress notification for a job. Sequence is monotonic
// per job and assigned by the publisher; within one job a subscriber
// observes events in non-decreasing sequence order.
type Event struct {
	ID        id.EventID      `json:"id"`
	JobID     id.JobID        `json:"job_id"`
	Type      EventType       `json:"type"`
	Phase     string          `json:"phase,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"ts"`
}
