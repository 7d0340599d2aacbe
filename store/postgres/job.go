package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

const jobColumns = `
	id, kind, status, phase, phase_input,
	progress_message, progress_percent, result, error,
	pause_id, pause_prompt,
	started_at, completed_at, last_event_at, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_jobs (
			id, kind, status, phase, phase_input,
			progress_message, progress_percent, result, error,
			pause_id, pause_prompt,
			started_at, completed_at, last_event_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15, $16
		)`,
		j.ID.String(), j.Kind, string(j.Status), j.Phase, []byte(j.PhaseInput),
		j.ProgressMessage, j.ProgressPercent, []byte(j.Result), j.Error,
		j.PauseID, []byte(j.PausePrompt),
		j.StartedAt, j.CompletedAt, j.LastEventAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conductor/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conductor_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get job: %w", err)
	}
	return j, nil
}

// PutJob replaces an existing job record.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_jobs SET
			kind = $2, status = $3, phase = $4, phase_input = $5,
			progress_message = $6, progress_percent = $7, result = $8, error = $9,
			pause_id = $10, pause_prompt = $11,
			started_at = $12, completed_at = $13, last_event_at = $14,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Kind, string(j.Status), j.Phase, []byte(j.PhaseInput),
		j.ProgressMessage, j.ProgressPercent, []byte(j.Result), j.Error,
		j.PauseID, []byte(j.PausePrompt),
		j.StartedAt, j.CompletedAt, j.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: put job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, ordered by creation
// time.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM conductor_jobs WHERE status = $1 ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conductor_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("conductor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j          job.Job
		rawID      string
		status     string
		phaseInput []byte
		result     []byte
		prompt     []byte
		started    *time.Time
		completed  *time.Time
		lastEvent  *time.Time
	)

	err := row.Scan(
		&rawID, &j.Kind, &status, &j.Phase, &phaseInput,
		&j.ProgressMessage, &j.ProgressPercent, &result, &j.Error,
		&j.PauseID, &prompt,
		&started, &completed, &lastEvent, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	jobID, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", rawID, err)
	}
	j.ID = jobID
	j.Status = job.Status(status)
	j.PhaseInput = json.RawMessage(phaseInput)
	j.Result = json.RawMessage(result)
	j.PausePrompt = json.RawMessage(prompt)
	j.StartedAt = started
	j.CompletedAt = completed
	j.LastEventAt = lastEvent
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}
