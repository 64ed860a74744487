package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
)

var (
	ErrJobNotReady = errors.New("job not completed")
	ErrJobFailed   = errors.New("job failed")
)

// GenerationService is the pipeline's client-facing entry point: it creates
// jobs, enqueues the first intent message, answers status/result queries and
// manages the owner's artifact catalog. All job mutations past creation
// belong to the agents. storage may be nil when object storage is not
// configured; catalog and deletion then operate on records alone.
type GenerationService struct {
	jobs    store.JobStore
	catalog store.CatalogStore
	storage client.StorageClient
	pub     queue.Publisher
}

func NewGenerationService(jobs store.JobStore, catalog store.CatalogStore, storage client.StorageClient, pub queue.Publisher) *GenerationService {
	return &GenerationService{jobs: jobs, catalog: catalog, storage: storage, pub: pub}
}

// StartGeneration creates a QUEUED job seeded with the user prompt envelope
// and publishes it onto the intent queue.
func (s *GenerationService) StartGeneration(ctx context.Context, ownerID string, req *model.GenerateStartRequest) (*model.GenerateStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	env := model.UserPrompt{
		JobID:        jobID,
		OwnerID:      ownerID,
		Prompt:       req.Prompt,
		OutputFormat: req.OutputFormat,
		Audience:     req.Audience,
		Tone:         req.Tone,
		Language:     req.Language,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt envelope: %w", err)
	}

	job := &model.Job{
		ID:              jobID,
		OwnerID:         ownerID,
		Status:          model.JobStatusQueued,
		Progress:        0,
		CurrentStepData: data,
		CreatedAt:       now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	if err := s.pub.Publish(ctx, queue.QueueIntent, jobID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return &model.GenerateStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the job record for polling clients, scoped to its
// owner.
func (s *GenerationService) GetStatus(ctx context.Context, ownerID, jobID string) (*model.GenerateStatusResponse, error) {
	job, err := s.jobs.Get(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}

	return &model.GenerateStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the final artifact of a completed job.
func (s *GenerationService) GetResult(ctx context.Context, ownerID, jobID string) (*model.GenerateResultResponse, error) {
	job, err := s.jobs.Get(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusCompleted:
	case model.JobStatusFailed:
		msg := "unknown error"
		if job.Error != nil {
			msg = *job.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, msg)
	default:
		return nil, ErrJobNotReady
	}

	var env model.RenderResponse
	if err := json.Unmarshal(job.CurrentStepData, &env); err != nil {
		return nil, fmt.Errorf("decode render envelope: %w", err)
	}

	// Stored artifact URLs are the public form; hand out a short-lived
	// signed URL instead when the bucket is private. Signing failures fall
	// back to the stored URL rather than failing the read.
	artifactURL := job.ArtifactURL
	if s.storage != nil && env.ArtifactKey != "" {
		signed, err := s.storage.GetSignedURL(ctx, env.ArtifactKey, time.Hour)
		if err != nil {
			log.Printf("[generation] sign artifact url for job %s: %v", job.ID, err)
		} else {
			artifactURL = signed
		}
	}

	return &model.GenerateResultResponse{
		JobID:       job.ID,
		Format:      env.Format,
		Title:       env.Title,
		ArtifactURL: artifactURL,
		Document:    env.Document,
		CompletedAt: job.CompletedAt,
	}, nil
}

// ListArtifacts returns the owner's finished artifacts, newest first.
// Catalog members whose record has been removed are skipped.
func (s *GenerationService) ListArtifacts(ctx context.Context, ownerID string) ([]*store.ArtifactRecord, error) {
	jobIDs, err := s.catalog.ListOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	records := make([]*store.ArtifactRecord, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		rec, err := s.catalog.Get(ctx, jobID)
		if errors.Is(err, store.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load artifact %s: %w", jobID, err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteArtifact removes an owner's artifact: the stored object first, then
// the catalog record. Foreign artifacts are rejected before anything is
// touched.
func (s *GenerationService) DeleteArtifact(ctx context.Context, ownerID, jobID string) error {
	rec, err := s.catalog.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.OwnerID != ownerID {
		return store.ErrForbidden
	}

	if s.storage != nil && rec.Key != "" {
		if err := s.storage.Delete(ctx, rec.Key); err != nil {
			return fmt.Errorf("delete artifact object: %w", err)
		}
	}

	if err := s.catalog.Remove(ctx, jobID, ownerID); err != nil {
		return fmt.Errorf("remove catalog record: %w", err)
	}
	return nil
}
