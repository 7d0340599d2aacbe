package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:conductor_jobs"`

	ID              string     `bun:"id,pk"`
	Kind            string     `bun:"kind,notnull"`
	Status          string     `bun:"status,notnull,default:'pending'"`
	Phase           string     `bun:"phase,notnull,default:''"`
	PhaseInput      []byte     `bun:"phase_input,type:bytea"`
	ProgressMessage string     `bun:"progress_message,notnull,default:''"`
	ProgressPercent int        `bun:"progress_percent,notnull,default:0"`
	Result          []byte     `bun:"result,type:bytea"`
	Error           string     `bun:"error,notnull,default:''"`
	PauseID         string     `bun:"pause_id,notnull,default:''"`
	PausePrompt     []byte     `bun:"pause_prompt,type:bytea"`
	StartedAt       *time.Time `bun:"started_at"`
	CompletedAt     *time.Time `bun:"completed_at"`
	LastEventAt     *time.Time `bun:"last_event_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
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
