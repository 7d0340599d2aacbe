package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// ── Job document ─────────────────────────────────────────────────

type jobModel struct {
	ID              string     `bson:"_id"`
	Kind            string     `bson:"kind"`
	Status          string     `bson:"status"`
	Phase           string     `bson:"phase"`
	PhaseInput      []byte     `bson:"phase_input,omitempty"`
	ProgressMessage string     `bson:"progress_message"`
	ProgressPercent int        `bson:"progress_percent"`
	Result          []byte     `bson:"result,omitempty"`
	Error           string     `bson:"error"`
	PauseID         string     `bson:"pause_id"`
	PausePrompt     []byte     `bson:"pause_prompt,omitempty"`
	StartedAt       *time.Time `bson:"started_at,omitempty"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
	LastEventAt     *time.Time `bson:"last_event_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:              j.ID.String(),
		Kind:            j.Kind,
		Status:          string(j.Status),
		Phase:           j.Phase,
		PhaseInput:      j.PhaseInput,
		ProgressMessage: j.ProgressMessage,
		ProgressPercent: j.ProgressPercent,
		Result:          j.Result,
		Error:           j.Error,
		PauseID:         j.PauseID,
		PausePrompt:     j.PausePrompt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		LastEventAt:     j.LastEventAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              jobID,
		Kind:            m.Kind,
		Status:          job.Status(m.Status),
		Phase:           m.Phase,
		PhaseInput:      json.RawMessage(m.PhaseInput),
		ProgressMessage: m.ProgressMessage,
		ProgressPercent: m.ProgressPercent,
		Result:          json.RawMessage(m.Result),
		Error:           m.Error,
		PauseID:         m.PauseID,
		PausePrompt:     json.RawMessage(m.PausePrompt),
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		LastEventAt:     m.LastEventAt,
	}, nil
}
