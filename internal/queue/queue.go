// Package queue names the pipeline's asynq queues and provides the
// publisher the agents forward messages with. Messages carry only the job
// id; stage payloads travel through the job record.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/draftforge/api/internal/model"
)

// One queue per stage and output format. The intent stage is shared; it
// routes to the format-specific track from its own output.
const (
	QueueIntent = "intent"

	QueueLayoutPresentation = "layout-presentation"
	QueueLayoutDocument     = "layout-document"
	QueueLayoutSpreadsheet  = "layout-spreadsheet"

	QueueContentPresentation = "content-presentation"
	QueueContentDocument     = "content-document"
	QueueContentSpreadsheet  = "content-spreadsheet"

	QueueRenderPresentation = "render-presentation"
	QueueRenderDocument     = "render-document"
	QueueRenderSpreadsheet  = "render-spreadsheet"

	QueueReconcile = "reconcile"
)

// AllQueues maps every queue to its asynq priority weight.
func AllQueues() map[string]int {
	return map[string]int{
		QueueIntent:              3,
		QueueLayoutPresentation:  2,
		QueueLayoutDocument:      2,
		QueueLayoutSpreadsheet:   2,
		QueueContentPresentation: 2,
		QueueContentDocument:     2,
		QueueContentSpreadsheet:  2,
		QueueRenderPresentation:  2,
		QueueRenderDocument:      2,
		QueueRenderSpreadsheet:   2,
		QueueReconcile:           1,
	}
}

// TaskType returns the asynq task type handled by a queue's agent.
func TaskType(queueName string) string {
	return "pipeline:" + queueName
}

// LayoutQueueFor routes an output format onto its layout track. Unknown
// formats fall back to the document track; routing never fails a job.
func LayoutQueueFor(format model.OutputFormat) string {
	switch format {
	case model.FormatPresentation:
		return QueueLayoutPresentation
	case model.FormatSpreadsheet:
		return QueueLayoutSpreadsheet
	default:
		return QueueLayoutDocument
	}
}

func ContentQueueFor(format model.OutputFormat) string {
	switch format {
	case model.FormatPresentation:
		return QueueContentPresentation
	case model.FormatSpreadsheet:
		return QueueContentSpreadsheet
	default:
		return QueueContentDocument
	}
}

func RenderQueueFor(format model.OutputFormat) string {
	switch format {
	case model.FormatPresentation:
		return QueueRenderPresentation
	case model.FormatSpreadsheet:
		return QueueRenderSpreadsheet
	default:
		return QueueRenderDocument
	}
}

// taskMaxRetry is the per-message delivery budget. Lease-busy deliveries
// are deferred in fixed 30s steps (the agent's retry policy), so the budget
// must outlast a competing worker's full 15 minute lease: 40 x 30s covers
// it with room to spare.
const taskMaxRetry = 40

// TaskEnvelope is the entire message body.
type TaskEnvelope struct {
	JobID string `json:"jobId"`
}

// Publisher enqueues a pipeline message for a job.
type Publisher interface {
	Publish(ctx context.Context, queueName, jobID string) error
}

// AsynqPublisher implements Publisher on an asynq client.
type AsynqPublisher struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewAsynqPublisher wraps an asynq client. timeout is the per-task
// processing window; it must cover the slowest stage, i.e. a full
// generation retry loop.
func NewAsynqPublisher(client *asynq.Client, timeout time.Duration) *AsynqPublisher {
	return &AsynqPublisher{client: client, timeout: timeout}
}

func (p *AsynqPublisher) Publish(ctx context.Context, queueName, jobID string) error {
	body, err := json.Marshal(TaskEnvelope{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}

	task := asynq.NewTask(TaskType(queueName), body)

	// The task id carries a timestamp salt: enqueueing the same job twice in
	// one run is deduplicated, while a later deliberate re-enqueue (human
	// retry) still goes through.
	_, err = p.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(fmt.Sprintf("%s:%s:%d", queueName, jobID, time.Now().UnixNano())),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(p.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s for job %s: %w", queueName, jobID, err)
	}
	return nil
}
