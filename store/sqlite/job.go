package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conductor_jobs (
			id, kind, status, phase, phase_input,
			progress_message, progress_percent, result, error,
			pause_id, pause_prompt,
			started_at, completed_at, last_event_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Kind, string(j.Status), j.Phase, []byte(j.PhaseInput),
		j.ProgressMessage, j.ProgressPercent, []byte(j.Result), j.Error,
		j.PauseID, []byte(j.PausePrompt),
		timeText(j.StartedAt), timeText(j.CompletedAt), timeText(j.LastEventAt),
		j.CreatedAt.Format(time.RFC3339Nano), j.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conductor/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM conductor_jobs WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/sqlite: get job: %w", err)
	}
	return j, nil
}

// PutJob replaces an existing job record.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conductor_jobs SET
			kind = ?, status = ?, phase = ?, phase_input = ?,
			progress_message = ?, progress_percent = ?, result = ?, error = ?,
			pause_id = ?, pause_prompt = ?,
			started_at = ?, completed_at = ?, last_event_at = ?,
			updated_at = ?
		WHERE id = ?`,
		j.Kind, string(j.Status), j.Phase, []byte(j.PhaseInput),
		j.ProgressMessage, j.ProgressPercent, []byte(j.Result), j.Error,
		j.PauseID, []byte(j.PausePrompt),
		timeText(j.StartedAt), timeText(j.CompletedAt), timeText(j.LastEventAt),
		time.Now().UTC().Format(time.RFC3339Nano),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("conductor/sqlite: put job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conductor/sqlite: put job rows: %w", err)
	}
	if rows == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, ordered by creation
// time.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM conductor_jobs WHERE status = ? ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conductor/sqlite: scan job: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/sqlite: iterate jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conductor_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("conductor/sqlite: delete job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conductor/sqlite: delete job rows: %w", err)
	}
	if rows == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ── row mapping ──────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
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
		started    sql.NullString
		completed  sql.NullString
		lastEvent  sql.NullString
		created    string
		updated    string
	)

	err := row.Scan(
		&rawID, &j.Kind, &status, &j.Phase, &phaseInput,
		&j.ProgressMessage, &j.ProgressPercent, &result, &j.Error,
		&j.PauseID, &prompt,
		&started, &completed, &lastEvent, &created, &updated,
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

	if j.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	if j.LastEventAt, err = parseTimePtr(lastEvent); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updated, err)
	}
	return &j, nil
}

// timeText formats an optional timestamp as RFC3339Nano text, or NULL.
func timeText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", s.String, err)
	}
	return &t, nil
}
