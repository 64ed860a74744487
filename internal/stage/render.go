package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/draftforge/api/internal/agent"
	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/render"
	"github.com/draftforge/api/internal/store"
)

// RenderStage is the terminal stage: a deterministic conversion of the
// content envelope into the target editor document, plus the pipeline's one
// finalization side effect — uploading the artifact and cataloging it. The
// side effect is best-effort; if it fails the job still completes and a
// reconcile task retries it.
type RenderStage struct {
	format model.OutputFormat
	fin    *ArtifactFinalizer
	pub    queue.Publisher
}

func NewRenderStage(format model.OutputFormat, fin *ArtifactFinalizer, pub queue.Publisher) *RenderStage {
	return &RenderStage{
		format: format,
		fin:    fin,
		pub:    pub,
	}
}

func (s *RenderStage) Name() string { return "render-" + string(s.format) }

func (s *RenderStage) ProcessingStatus() model.JobStatus { return model.JobStatusRendering }

func (s *RenderStage) Progress() int { return 85 }

func (s *RenderStage) ExtractInput(job *model.Job) (model.ContentResponse, error) {
	env, err := model.DecodeEnvelope[model.ContentResponse](job, func(e *model.ContentResponse) string { return e.JobID })
	if err != nil {
		return model.ContentResponse{}, err
	}
	// A valid content envelope always carries filled blocks; the final
	// render envelope decoded into this shape leaves them empty.
	if len(env.Content.Blocks) == 0 {
		return model.ContentResponse{}, fmt.Errorf("%w: job %s carries no content blocks", agent.ErrStaleMessage, job.ID)
	}
	return env, nil
}

// RecoverOutput reports a redelivery that arrives after the render envelope
// was persisted. Re-forwarding it re-runs completion, which is idempotent:
// the finalizer's object and catalog keys derive from the job id.
func (s *RenderStage) RecoverOutput(job *model.Job) (model.RenderResponse, bool) {
	env, err := model.DecodeEnvelope[model.RenderResponse](job, func(e *model.RenderResponse) string { return e.JobID })
	if err != nil || len(env.Document) == 0 {
		return model.RenderResponse{}, false
	}
	return env, true
}

func (s *RenderStage) Process(ctx context.Context, in model.ContentResponse, job *model.Job) (model.RenderResponse, error) {
	var (
		doc any
		err error
	)
	switch s.format {
	case model.FormatPresentation:
		doc, err = render.Presentation(&in)
	case model.FormatSpreadsheet:
		doc, err = render.Spreadsheet(&in)
	default:
		doc, err = render.Document(&in)
	}
	if err != nil {
		return model.RenderResponse{}, fmt.Errorf("render %s: %w", s.format, err)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return model.RenderResponse{}, fmt.Errorf("marshal document: %w", err)
	}

	title := ""
	if in.PreviousStage != nil && in.PreviousStage.PreviousStage != nil {
		title = in.PreviousStage.PreviousStage.Intent.Title
	}

	return model.RenderResponse{
		JobID:         in.JobID,
		Format:        s.format,
		Title:         title,
		ArtifactKey:   fmt.Sprintf("artifacts/%s/%s.json", job.OwnerID, job.ID),
		Document:      docJSON,
		PreviousStage: &in,
	}, nil
}

// NextQueue marks this the terminal stage.
func (s *RenderStage) NextQueue(job *model.Job, out model.RenderResponse) (string, bool) {
	return "", false
}

// OnJobCompleted persists the artifact and catalogs it. It runs before the
// completed job record is saved, so the artifact URL it writes into the job
// lands in the same write. On failure the job stays completed; a reconcile
// task is enqueued so the gap is repaired instead of silently accepted.
func (s *RenderStage) OnJobCompleted(ctx context.Context, job *model.Job) error {
	if err := s.fin.Finalize(ctx, job); err != nil {
		if s.pub != nil {
			if pubErr := s.pub.Publish(ctx, queue.QueueReconcile, job.ID); pubErr != nil {
				log.Printf("[%s] job %s: enqueue reconcile: %v", s.Name(), job.ID, pubErr)
			}
		}
		return err
	}
	return nil
}

// ArtifactFinalizer uploads a completed job's rendered document and writes
// its catalog record. Both writes are idempotent: the object key and the
// catalog key are derived from the job id, so a retried finalization
// converges instead of duplicating.
type ArtifactFinalizer struct {
	storage client.StorageClient
	catalog store.CatalogStore
}

func NewArtifactFinalizer(storage client.StorageClient, catalog store.CatalogStore) *ArtifactFinalizer {
	return &ArtifactFinalizer{storage: storage, catalog: catalog}
}

// Finalize mutates the job in place: the artifact URL is written back into
// both the job record and the render envelope.
func (f *ArtifactFinalizer) Finalize(ctx context.Context, job *model.Job) error {
	var env model.RenderResponse
	if err := json.Unmarshal(job.CurrentStepData, &env); err != nil {
		return fmt.Errorf("decode render envelope: %w", err)
	}

	if f.storage != nil {
		url, err := f.storage.UploadJSON(ctx, env.ArtifactKey, env.Document)
		if err != nil {
			return fmt.Errorf("upload artifact: %w", err)
		}
		env.ArtifactURL = url
		job.ArtifactURL = url

		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("re-marshal render envelope: %w", err)
		}
		job.CurrentStepData = data
	}

	if f.catalog != nil {
		rec := &store.ArtifactRecord{
			JobID:     job.ID,
			OwnerID:   job.OwnerID,
			Format:    env.Format,
			Title:     env.Title,
			Key:       env.ArtifactKey,
			URL:       env.ArtifactURL,
			CreatedAt: time.Now(),
		}
		if err := f.catalog.Put(ctx, rec); err != nil {
			return fmt.Errorf("catalog artifact: %w", err)
		}
	}

	return nil
}

// Reconciler retries finalization for completed jobs whose artifact upload
// or catalog write failed. Errors propagate so asynq retries the task and
// eventually archives it.
type Reconciler struct {
	fin  *ArtifactFinalizer
	jobs store.JobStore
}

func NewReconciler(fin *ArtifactFinalizer, jobs store.JobStore) *Reconciler {
	return &Reconciler{fin: fin, jobs: jobs}
}

func (r *Reconciler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var env queue.TaskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil || env.JobID == "" {
		return fmt.Errorf("malformed reconcile payload: %w", asynq.SkipRetry)
	}

	job, err := r.jobs.Get(ctx, env.JobID, store.SystemScope)
	if err != nil {
		return fmt.Errorf("load job %s: %w", env.JobID, err)
	}
	if job.Status != model.JobStatusCompleted {
		log.Printf("[reconcile] job %s is %s, nothing to reconcile", job.ID, job.Status)
		return nil
	}

	if err := r.fin.Finalize(ctx, job); err != nil {
		return fmt.Errorf("reconcile job %s: %w", job.ID, err)
	}

	if _, err := r.jobs.Update(ctx, job.ID, store.SystemScope, store.UpdateFields{
		CurrentStepData: job.CurrentStepData,
		ArtifactURL:     &job.ArtifactURL,
	}); err != nil {
		return fmt.Errorf("persist reconciled job %s: %w", job.ID, err)
	}

	log.Printf("[reconcile] job %s finalized", job.ID)
	return nil
}
