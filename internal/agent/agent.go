// Package agent implements the generic pipeline worker. One Agent serves
// one queue; it resolves each message to a job, claims the job's processing
// lease, runs exactly one stage transformation, persists the output and
// forwards the job to the next queue. Stage failures are terminal for the
// job and never retried by the engine; the structured generation retry loop
// is the only retry mechanism in the system.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
)

// Stage supplies the per-stage behavior the engine is parameterized by.
type Stage[I, O any] interface {
	// Name identifies the stage in logs.
	Name() string
	// ProcessingStatus is the status value this stage claims while working.
	ProcessingStatus() model.JobStatus
	// Progress is the coarse completion percentage reported on claim.
	Progress() int
	// ExtractInput pulls the stage's typed input out of the job's stored
	// state, verifying it belongs to this job. Input that decodes but does
	// not carry this stage's expected payload is reported as ErrStaleMessage.
	ExtractInput(job *model.Job) (I, error)
	// RecoverOutput reports whether the job's stored stage data already is
	// this stage's output — a redelivery that crashed after the output was
	// persisted but before the message was acked. Recovered output is
	// forwarded without reprocessing.
	RecoverOutput(job *model.Job) (O, bool)
	// Process performs the stage transformation.
	Process(ctx context.Context, in I, job *model.Job) (O, error)
	// NextQueue resolves the successor queue, possibly from the output
	// itself. ok=false marks this the terminal stage.
	NextQueue(job *model.Job, out O) (nextQueue string, ok bool)
}

// Finalizer is implemented by the terminal stage to run its completion
// side effect. The hook runs before the completed job record is saved, so
// mutations to the job (artifact location) land in the same write. Hook
// errors are logged, never failed on.
type Finalizer interface {
	OnJobCompleted(ctx context.Context, job *model.Job) error
}

// Notifier pushes live job updates; the websocket hub implements it.
type Notifier interface {
	JobProgress(jobID string, progress int, status model.JobStatus, step string)
	JobCompleted(jobID string, job *model.Job)
	JobFailed(jobID string, message string)
}

// Agent binds a Stage to the job store and the queue.
type Agent[I, O any] struct {
	stage    Stage[I, O]
	jobs     store.JobStore
	pub      queue.Publisher
	leaseTTL time.Duration
	notifier Notifier
}

func New[I, O any](stage Stage[I, O], jobs store.JobStore, pub queue.Publisher, leaseTTL time.Duration, notifier Notifier) *Agent[I, O] {
	if leaseTTL <= 0 {
		leaseTTL = 15 * time.Minute
	}
	return &Agent[I, O]{
		stage:    stage,
		jobs:     jobs,
		pub:      pub,
		leaseTTL: leaseTTL,
		notifier: notifier,
	}
}

// ErrJobBusy is returned when another worker holds the job's lease; the
// message is left for redelivery.
var ErrJobBusy = errors.New("job is being processed by another worker")

// ErrStaleMessage marks a delivery whose stored stage data no longer matches
// this stage — the job has already moved on. The message is dropped without
// touching the job.
var ErrStaleMessage = errors.New("stage data does not match this stage")

// BusyRetryDelay spaces redeliveries of messages that found the job's lease
// held. The delay times the queue's retry budget must exceed the worst-case
// lease, or a busy message would be archived while the holder is still
// working.
const BusyRetryDelay = 30 * time.Second

// RetryDelay is the asynq server's retry policy: lease-busy deferrals wait a
// fixed interval instead of backing off exponentially, so the full retry
// budget stays available for the duration of a competing worker's lease.
// Everything else keeps asynq's default backoff.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if errors.Is(err, ErrJobBusy) {
		return BusyRetryDelay
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// ProcessTask is the asynq handler entry point.
func (a *Agent[I, O]) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var env queue.TaskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil || env.JobID == "" {
		// Unparseable message: archive it (dead-letter) instead of
		// redelivering forever.
		log.Printf("[%s] dropping malformed task payload: %v", a.stage.Name(), err)
		return fmt.Errorf("malformed task payload: %w", asynq.SkipRetry)
	}

	job, err := a.jobs.Get(ctx, env.JobID, store.SystemScope)
	if errors.Is(err, store.ErrJobNotFound) {
		// The message references a job that will never exist; ack it.
		log.Printf("[%s] job %s not found, dropping message", a.stage.Name(), env.JobID)
		return nil
	}
	if err != nil {
		// Store unavailable: leave the message for redelivery.
		return fmt.Errorf("load job %s: %w", env.JobID, err)
	}

	if job.Status.IsTerminal() {
		// Redelivery after a crash between save and ack, or an explicit
		// re-enqueue of a finished job. Completed and failed jobs are
		// immutable without a fresh start.
		log.Printf("[%s] job %s already %s, dropping message", a.stage.Name(), job.ID, job.Status)
		return nil
	}

	claimed, err := a.jobs.Claim(ctx, job.ID, a.leaseTTL)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobBusy)
	}
	defer func() {
		if err := a.jobs.Release(context.WithoutCancel(ctx), job.ID); err != nil {
			log.Printf("[%s] release lease for job %s: %v", a.stage.Name(), job.ID, err)
		}
	}()

	if err := a.run(ctx, job); err != nil {
		if errors.Is(err, ErrStaleMessage) {
			// The job has moved past this stage; failing it now would wreck
			// a healthy downstream run. Drop the message.
			log.Printf("[%s] job %s: %v, dropping message", a.stage.Name(), job.ID, err)
			return nil
		}
		a.failJob(ctx, job.ID, err)
		// The message is acked; failed jobs stay failed until an external
		// actor re-enqueues them.
		return nil
	}
	return nil
}

func (a *Agent[I, O]) run(ctx context.Context, job *model.Job) error {
	// A redelivery can arrive after the output was persisted but before the
	// message was acked. Re-running the stage would misread the stored
	// output as input; forward the recovered output instead so redelivery
	// converges.
	if out, ok := a.stage.RecoverOutput(job); ok {
		log.Printf("[%s] job %s output already persisted, forwarding", a.stage.Name(), job.ID)
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal recovered output: %w", err)
		}
		return a.dispatch(ctx, job, out, data)
	}

	// Extract before any write so a stale delivery leaves no mark on the
	// job record.
	in, err := a.stage.ExtractInput(job)
	if err != nil {
		return fmt.Errorf("extract input: %w", err)
	}

	if err := a.markProcessing(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	out, err := a.stage.Process(ctx, in, job)
	if err != nil {
		return fmt.Errorf("%s: %w", a.stage.Name(), err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal stage output: %w", err)
	}

	return a.dispatch(ctx, job, out, data)
}

func (a *Agent[I, O]) dispatch(ctx context.Context, job *model.Job, out O, data json.RawMessage) error {
	nextQueue, hasNext := a.stage.NextQueue(job, out)
	if !hasNext {
		return a.complete(ctx, job, data)
	}

	// Persist the output before forwarding: the downstream stage must never
	// observe pre-this-stage data for the job.
	if _, err := a.jobs.Update(ctx, job.ID, store.SystemScope, store.UpdateFields{
		CurrentStepData: data,
	}); err != nil {
		return fmt.Errorf("persist stage output: %w", err)
	}

	if err := a.pub.Publish(ctx, nextQueue, job.ID); err != nil {
		return fmt.Errorf("forward to %s: %w", nextQueue, err)
	}

	log.Printf("[%s] job %s forwarded to %s", a.stage.Name(), job.ID, nextQueue)
	return nil
}

func (a *Agent[I, O]) markProcessing(ctx context.Context, job *model.Job) error {
	status := a.stage.ProcessingStatus()
	progress := a.stage.Progress()
	step := a.stage.Name()

	fields := store.UpdateFields{
		Status:      &status,
		Progress:    &progress,
		CurrentStep: &step,
	}
	if job.StartedAt == nil {
		now := time.Now()
		fields.StartedAt = &now
	}

	updated, err := a.jobs.Update(ctx, job.ID, store.SystemScope, fields)
	if err != nil {
		return err
	}
	*job = *updated

	if a.notifier != nil {
		a.notifier.JobProgress(job.ID, progress, status, step)
	}
	return nil
}

func (a *Agent[I, O]) complete(ctx context.Context, job *model.Job, data json.RawMessage) error {
	job.CurrentStepData = data

	// Completion hook runs before the final save so its mutations are
	// captured in the same write. Its side effects are best-effort: a
	// failure here does not un-complete the job.
	if fin, ok := any(a.stage).(Finalizer); ok {
		if err := fin.OnJobCompleted(ctx, job); err != nil {
			log.Printf("[%s] completion hook for job %s: %v", a.stage.Name(), job.ID, err)
		}
	}

	status := model.JobStatusCompleted
	progress := 100
	step := ""
	now := time.Now()
	updated, err := a.jobs.Update(ctx, job.ID, store.SystemScope, store.UpdateFields{
		Status:          &status,
		Progress:        &progress,
		CurrentStep:     &step,
		CurrentStepData: job.CurrentStepData,
		ArtifactURL:     &job.ArtifactURL,
		CompletedAt:     &now,
	})
	if err != nil {
		return fmt.Errorf("persist completed job: %w", err)
	}
	*job = *updated

	if a.notifier != nil {
		a.notifier.JobCompleted(job.ID, job)
	}
	log.Printf("[%s] job %s completed", a.stage.Name(), job.ID)
	return nil
}

func (a *Agent[I, O]) failJob(ctx context.Context, jobID string, cause error) {
	status := model.JobStatusFailed
	msg := cause.Error()
	now := time.Now()
	if _, err := a.jobs.Update(context.WithoutCancel(ctx), jobID, store.SystemScope, store.UpdateFields{
		Status:      &status,
		Error:       &msg,
		CompletedAt: &now,
	}); err != nil {
		log.Printf("[%s] failed to mark job %s failed: %v", a.stage.Name(), jobID, err)
		return
	}

	if a.notifier != nil {
		a.notifier.JobFailed(jobID, msg)
	}
	log.Printf("[%s] job %s failed: %v", a.stage.Name(), jobID, cause)
}
