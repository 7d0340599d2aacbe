package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// CreateJob stores the job as a Hash and indexes it by status.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return conductor.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, statusKey(string(j.Status)), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, conductor.ErrJobNotFound
	}
	return mapToJob(fields)
}

// PutJob replaces an existing job record and moves it between status
// indexes if the status changed. Callers serialize writes per job, so
// the read-then-write here does not race.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	oldStatus, err := s.client.HGet(ctx, key, "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conductor.ErrJobNotFound
		}
		return fmt.Errorf("conductor/redis: put job read status: %w", err)
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if oldStatus != string(j.Status) {
		pipe.SMove(ctx, statusKey(oldStatus), statusKey(string(j.Status)), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: put job: %w", err)
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, ordered by creation
// time.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, statusKey(string(status))).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: list members: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		fields, getErr := s.client.HGetAll(ctx, jobKey(jID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("conductor/redis: list read %s: %w", jID, getErr)
		}
		if len(fields) == 0 {
			// Index entry without a hash; skip rather than fail the scan.
			s.logger.Warn("dangling status index entry", "job_id", jID)
			continue
		}
		j, convErr := mapToJob(fields)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// DeleteJob removes a job and its status index entry.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	status, err := s.client.HGet(ctx, key, "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conductor.ErrJobNotFound
		}
		return fmt.Errorf("conductor/redis: delete job read status: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, statusKey(status), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: delete job: %w", err)
	}
	return nil
}

// ── hash mapping ─────────────────────────────────────────────────

// jobToMap flattens a job into Redis hash fields. Every field is always
// written so stale values from a previous state are overwritten.
func jobToMap(j *job.Job) map[string]any {
	return map[string]any{
		"id":               j.ID.String(),
		"kind":             j.Kind,
		"status":           string(j.Status),
		"phase":            j.Phase,
		"phase_input":      string(j.PhaseInput),
		"progress_message": j.ProgressMessage,
		"progress_percent": strconv.Itoa(j.ProgressPercent),
		"result":           string(j.Result),
		"error":            j.Error,
		"pause_id":         j.PauseID,
		"pause_prompt":     string(j.PausePrompt),
		"started_at":       timeField(j.StartedAt),
		"completed_at":     timeField(j.CompletedAt),
		"last_event_at":    timeField(j.LastEventAt),
		"created_at":       j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       j.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToJob(fields map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse job id %q: %w", fields["id"], err)
	}

	j := &job.Job{
		ID:              jobID,
		Kind:            fields["kind"],
		Status:          job.Status(fields["status"]),
		Phase:           fields["phase"],
		ProgressMessage: fields["progress_message"],
		Error:           fields["error"],
		PauseID:         fields["pause_id"],
	}
	if v := fields["phase_input"]; v != "" {
		j.PhaseInput = json.RawMessage(v)
	}
	if v := fields["result"]; v != "" {
		j.Result = json.RawMessage(v)
	}
	if v := fields["pause_prompt"]; v != "" {
		j.PausePrompt = json.RawMessage(v)
	}
	if v := fields["progress_percent"]; v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, fmt.Errorf("conductor/redis: parse progress_percent %q: %w", v, convErr)
		}
		j.ProgressPercent = n
	}

	if j.StartedAt, err = timePtrField(fields["started_at"]); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = timePtrField(fields["completed_at"]); err != nil {
		return nil, err
	}
	if j.LastEventAt, err = timePtrField(fields["last_event_at"]); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("conductor/redis: parse created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("conductor/redis: parse updated_at: %w", err)
	}
	return j, nil
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrField(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse timestamp %q: %w", v, err)
	}
	return &t, nil
}
