package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
)

type memJobStore struct {
	jobs map[string]*model.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*model.Job)}
}

func (s *memJobStore) Create(ctx context.Context, job *model.Job) error {
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memJobStore) Get(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if ownerID != store.SystemScope && job.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	cp := *job
	return &cp, nil
}

func (s *memJobStore) Update(ctx context.Context, jobID, ownerID string, fields store.UpdateFields) (*model.Job, error) {
	job, err := s.Get(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	store.ApplyUpdate(job, fields)
	s.jobs[jobID] = job
	cp := *job
	return &cp, nil
}

func (s *memJobStore) Claim(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (s *memJobStore) Release(ctx context.Context, jobID string) error { return nil }

type memPublisher struct {
	published []string
	err       error
}

func (p *memPublisher) Publish(ctx context.Context, queueName, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, queueName+"/"+jobID)
	return nil
}

type memCatalog struct {
	records map[string]*store.ArtifactRecord
	owners  map[string][]string
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		records: make(map[string]*store.ArtifactRecord),
		owners:  make(map[string][]string),
	}
}

func (c *memCatalog) Put(ctx context.Context, rec *store.ArtifactRecord) error {
	c.records[rec.JobID] = rec
	c.owners[rec.OwnerID] = append(c.owners[rec.OwnerID], rec.JobID)
	return nil
}

func (c *memCatalog) Get(ctx context.Context, jobID string) (*store.ArtifactRecord, error) {
	rec, ok := c.records[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return rec, nil
}

func (c *memCatalog) ListOwner(ctx context.Context, ownerID string) ([]string, error) {
	return c.owners[ownerID], nil
}

func (c *memCatalog) Remove(ctx context.Context, jobID, ownerID string) error {
	delete(c.records, jobID)
	ids := c.owners[ownerID][:0]
	for _, id := range c.owners[ownerID] {
		if id != jobID {
			ids = append(ids, id)
		}
	}
	c.owners[ownerID] = ids
	return nil
}

// memStorage fakes object storage: it records deletions and signs URLs
// deterministically.
type memStorage struct {
	deleted []string
	signErr error
}

func (s *memStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func (s *memStorage) UploadJSON(ctx context.Context, key string, data []byte) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://signed.example.com/" + key, nil
}

func (s *memStorage) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func TestStartGeneration(t *testing.T) {
	jobs := newMemJobStore()
	pub := &memPublisher{}
	svc := NewGenerationService(jobs, newMemCatalog(), nil, pub)

	resp, err := svc.StartGeneration(context.Background(), "owner-1", &model.GenerateStartRequest{
		Prompt:       "make a quarterly report",
		OutputFormat: model.FormatDocument,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("expected a job id")
	}
	if resp.Status != model.JobStatusQueued {
		t.Errorf("expected queued, got %s", resp.Status)
	}

	// The job is seeded with the prompt envelope and enqueued on intent.
	job, err := jobs.Get(context.Background(), resp.JobID, "owner-1")
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	var env model.UserPrompt
	if err := json.Unmarshal(job.CurrentStepData, &env); err != nil {
		t.Fatalf("decode prompt envelope: %v", err)
	}
	if env.JobID != resp.JobID || env.OwnerID != "owner-1" || env.Prompt != "make a quarterly report" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	if len(pub.published) != 1 || pub.published[0] != queue.QueueIntent+"/"+resp.JobID {
		t.Errorf("expected one intent message, got %v", pub.published)
	}
}

func TestStartGeneration_EnqueueFailure(t *testing.T) {
	jobs := newMemJobStore()
	pub := &memPublisher{err: errors.New("broker down")}
	svc := NewGenerationService(jobs, newMemCatalog(), nil, pub)

	_, err := svc.StartGeneration(context.Background(), "owner-1", &model.GenerateStartRequest{
		Prompt:       "deck please",
		OutputFormat: model.FormatPresentation,
	})
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
}

func TestGetStatus_OwnerScoped(t *testing.T) {
	jobs := newMemJobStore()
	svc := NewGenerationService(jobs, newMemCatalog(), nil, &memPublisher{})

	jobs.Create(context.Background(), &model.Job{
		ID: "job-1", OwnerID: "owner-1", Status: model.JobStatusProcessingLayout, Progress: 35,
	})

	status, err := svc.GetStatus(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != model.JobStatusProcessingLayout || status.Progress != 35 {
		t.Errorf("unexpected status: %+v", status)
	}

	if _, err := svc.GetStatus(context.Background(), "owner-2", "job-1"); !errors.Is(err, store.ErrForbidden) {
		t.Errorf("expected ErrForbidden for foreign owner, got %v", err)
	}
	if _, err := svc.GetStatus(context.Background(), "owner-1", "missing"); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetResult(t *testing.T) {
	jobs := newMemJobStore()
	svc := NewGenerationService(jobs, newMemCatalog(), nil, &memPublisher{})

	env := model.RenderResponse{
		JobID:    "job-1",
		Format:   model.FormatPresentation,
		Title:    "Pitch",
		Document: json.RawMessage(`{"title": "Pitch", "slides": []}`),
	}
	data, _ := json.Marshal(env)
	now := time.Now()
	jobs.Create(context.Background(), &model.Job{
		ID: "job-1", OwnerID: "owner-1", Status: model.JobStatusCompleted,
		CurrentStepData: data, ArtifactURL: "https://cdn.example.com/a.json", CompletedAt: &now,
	})

	result, err := svc.GetResult(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Format != model.FormatPresentation || result.Title != "Pitch" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.ArtifactURL != "https://cdn.example.com/a.json" {
		t.Errorf("unexpected artifact URL: %q", result.ArtifactURL)
	}
}

func TestGetResult_NotReady(t *testing.T) {
	jobs := newMemJobStore()
	svc := NewGenerationService(jobs, newMemCatalog(), nil, &memPublisher{})

	for _, status := range []model.JobStatus{
		model.JobStatusQueued, model.JobStatusProcessingIntent, model.JobStatusRendering,
	} {
		id := "job-" + string(status)
		jobs.Create(context.Background(), &model.Job{ID: id, OwnerID: "owner-1", Status: status})

		_, err := svc.GetResult(context.Background(), "owner-1", id)
		if !errors.Is(err, ErrJobNotReady) {
			t.Errorf("%s: expected ErrJobNotReady, got %v", status, err)
		}
	}
}

func TestGetResult_SignedURL(t *testing.T) {
	jobs := newMemJobStore()
	storage := &memStorage{}
	svc := NewGenerationService(jobs, newMemCatalog(), storage, &memPublisher{})

	env := model.RenderResponse{
		JobID:       "job-1",
		Format:      model.FormatDocument,
		Title:       "Report",
		ArtifactKey: "artifacts/owner-1/job-1.json",
		Document:    json.RawMessage(`{"title": "Report"}`),
	}
	data, _ := json.Marshal(env)
	jobs.Create(context.Background(), &model.Job{
		ID: "job-1", OwnerID: "owner-1", Status: model.JobStatusCompleted,
		CurrentStepData: data, ArtifactURL: "https://cdn.example.com/a.json",
	})

	result, err := svc.GetResult(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactURL != "https://signed.example.com/artifacts/owner-1/job-1.json" {
		t.Errorf("expected a signed URL, got %q", result.ArtifactURL)
	}

	// Signing failures fall back to the stored URL; the read still serves.
	storage.signErr = errors.New("presign unavailable")
	result, err = svc.GetResult(context.Background(), "owner-1", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactURL != "https://cdn.example.com/a.json" {
		t.Errorf("expected fallback to the stored URL, got %q", result.ArtifactURL)
	}
}

func TestListArtifacts(t *testing.T) {
	catalog := newMemCatalog()
	svc := NewGenerationService(newMemJobStore(), catalog, nil, &memPublisher{})

	base := time.Now()
	catalog.Put(context.Background(), &store.ArtifactRecord{
		JobID: "job-1", OwnerID: "owner-1", Title: "Old", CreatedAt: base.Add(-time.Hour),
	})
	catalog.Put(context.Background(), &store.ArtifactRecord{
		JobID: "job-2", OwnerID: "owner-1", Title: "New", CreatedAt: base,
	})
	catalog.Put(context.Background(), &store.ArtifactRecord{
		JobID: "job-3", OwnerID: "owner-2", Title: "Foreign", CreatedAt: base,
	})

	records, err := svc.ListArtifacts(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Title != "New" || records[1].Title != "Old" {
		t.Errorf("expected newest first, got %q then %q", records[0].Title, records[1].Title)
	}

	if records, err := svc.ListArtifacts(context.Background(), "owner-3"); err != nil || len(records) != 0 {
		t.Errorf("expected empty catalog for unknown owner, got %v %v", records, err)
	}
}

func TestDeleteArtifact(t *testing.T) {
	catalog := newMemCatalog()
	storage := &memStorage{}
	svc := NewGenerationService(newMemJobStore(), catalog, storage, &memPublisher{})

	catalog.Put(context.Background(), &store.ArtifactRecord{
		JobID: "job-1", OwnerID: "owner-1", Key: "artifacts/owner-1/job-1.json",
	})

	// Foreign owners are rejected before anything is touched.
	if err := svc.DeleteArtifact(context.Background(), "owner-2", "job-1"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(storage.deleted) != 0 {
		t.Fatal("foreign delete must not touch storage")
	}

	if err := svc.DeleteArtifact(context.Background(), "owner-1", "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(storage.deleted) != 1 || storage.deleted[0] != "artifacts/owner-1/job-1.json" {
		t.Errorf("expected the object deleted, got %v", storage.deleted)
	}
	if _, err := catalog.Get(context.Background(), "job-1"); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected the record removed, got %v", err)
	}

	if err := svc.DeleteArtifact(context.Background(), "owner-1", "job-1"); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for a removed artifact, got %v", err)
	}
}

func TestGetResult_Failed(t *testing.T) {
	jobs := newMemJobStore()
	svc := NewGenerationService(jobs, newMemCatalog(), nil, &memPublisher{})

	msg := "layout generation: no valid completion after 10 attempts"
	jobs.Create(context.Background(), &model.Job{
		ID: "job-1", OwnerID: "owner-1", Status: model.JobStatusFailed, Error: &msg,
	})

	_, err := svc.GetResult(context.Background(), "owner-1", "job-1")
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
}
