package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/model"
)

// SystemScope is the owner sentinel for agent-initiated reads and writes;
// it skips the ownership check.
const SystemScope = "system"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrForbidden   = errors.New("job belongs to another owner")
)

// UpdateFields is a partial job update; nil pointers leave the stored value
// untouched. CurrentStepData is replaced when non-nil.
type UpdateFields struct {
	Status          *model.JobStatus
	Progress        *int
	CurrentStep     *string
	Error           *string
	CurrentStepData json.RawMessage
	ArtifactURL     *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// JobStore is the durable record of pipeline jobs. Claim/Release implement
// the per-job processing lease: the queue here does not guarantee per-key
// single delivery, so mutual exclusion must be explicit.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID, ownerID string) (*model.Job, error)
	Update(ctx context.Context, jobID, ownerID string, fields UpdateFields) (*model.Job, error)
	Claim(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobID string) error
}

const jobTTL = 7 * 24 * time.Hour

// RedisJobStore keeps job records as JSON under job:<id>.
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func leaseKey(jobID string) string {
	return fmt.Sprintf("job:%s:lease", jobID)
}

func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}

	if ownerID != SystemScope && job.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	return &job, nil
}

func (s *RedisJobStore) Update(ctx context.Context, jobID, ownerID string, fields UpdateFields) (*model.Job, error) {
	job, err := s.Get(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}

	ApplyUpdate(job, fields)

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := s.redis.Set(ctx, jobKey(jobID), data, jobTTL).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// Claim takes the processing lease for a job. Returns false when another
// worker currently holds it; the caller should leave the message for
// redelivery rather than proceed.
func (s *RedisJobStore) Claim(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	return s.redis.SetNX(ctx, leaseKey(jobID), "1", ttl).Result()
}

func (s *RedisJobStore) Release(ctx context.Context, jobID string) error {
	return s.redis.Del(ctx, leaseKey(jobID)).Err()
}

// ApplyUpdate merges a partial update into a job record.
func ApplyUpdate(job *model.Job, fields UpdateFields) {
	if fields.Status != nil {
		job.Status = *fields.Status
	}
	if fields.Progress != nil {
		job.Progress = *fields.Progress
	}
	if fields.CurrentStep != nil {
		job.CurrentStep = *fields.CurrentStep
	}
	if fields.Error != nil {
		job.Error = fields.Error
	}
	if fields.CurrentStepData != nil {
		job.CurrentStepData = fields.CurrentStepData
	}
	if fields.ArtifactURL != nil {
		job.ArtifactURL = *fields.ArtifactURL
	}
	if fields.StartedAt != nil {
		job.StartedAt = fields.StartedAt
	}
	if fields.CompletedAt != nil {
		job.CompletedAt = fields.CompletedAt
	}
}
