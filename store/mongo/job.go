package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conductor/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).
		FindOne(ctx, bson.M{"_id": jobID.String()}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// PutJob replaces an existing job record.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.Collection(colJobs).
		ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("conductor/mongo: put job: %w", err)
	}
	if res.MatchedCount == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, ordered by creation
// time.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.db.Collection(colJobs).
		Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: list jobs: %w", err)
	}
	defer cur.Close(ctx)

	var jobs []*job.Job
	for cur.Next(ctx) {
		var m jobModel
		if decErr := cur.Decode(&m); decErr != nil {
			return nil, fmt.Errorf("conductor/mongo: decode job: %w", decErr)
		}
		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("conductor/mongo: iterate jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).
		DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("conductor/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}
