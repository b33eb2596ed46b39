package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/vtt-forge/internal/services/events"
	"github.com/jwebster45206/vtt-forge/internal/services/queue"
	queuePkg "github.com/jwebster45206/vtt-forge/pkg/queue"
)

const (
	dequeueTimeout = 5 * time.Second
	errorBackoff   = 1 * time.Second
)

// Worker processes jobs from the job queue one at a time.
type Worker struct {
	id          string
	queue       *queue.JobQueue
	processor   *JobProcessor
	broadcaster *events.Broadcaster
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance. broadcaster may be nil.
func New(jobQueue *queue.JobQueue, processor *JobProcessor, broadcaster *events.Broadcaster, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       jobQueue,
		processor:   processor,
		broadcaster: broadcaster,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Start processes jobs until Stop is called.
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNextJob(); err != nil {
				if w.ctx.Err() != nil {
					continue
				}
				w.log.Error("Error processing job", "error", err, "worker_id", w.id)
				// Continue processing even on error
				select {
				case <-time.After(errorBackoff):
				case <-w.ctx.Done():
				}
			}
		}
	}
}

// Stop gracefully shuts down the worker. A job in progress is cancelled.
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNextJob waits for the next job and runs it to completion.
func (w *Worker) processNextJob() error {
	job, err := w.queue.Dequeue(w.ctx, dequeueTimeout)
	if err != nil {
		return fmt.Errorf("failed to dequeue job: %w", err)
	}
	if job == nil {
		// Queue is empty or timeout occurred - this is normal
		return nil
	}
	return w.processJob(job)
}

func (w *Worker) processJob(job *queuePkg.Job) error {
	log := w.log.With("worker_id", w.id, "job_id", job.ID, "kind", job.Request.Kind)
	log.Info("Processing job")
	start := time.Now()

	startedAt := start.UTC()
	job.Status = queuePkg.StatusRunning
	job.WorkerID = w.id
	job.StartedAt = &startedAt
	if err := w.queue.Save(w.ctx, job); err != nil {
		return err
	}
	w.publish(func(b *events.Broadcaster) error {
		return b.PublishJobRunning(w.ctx, job.ID, string(job.Request.Kind), w.id)
	})

	composed := w.processor.Process(w.ctx, job)

	// The job context may already be cancelled on shutdown; the final
	// status is still written.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Save(saveCtx, job); err != nil {
		return err
	}

	duration := time.Since(start)
	if job.Status == queuePkg.StatusFailed {
		w.publish(func(b *events.Broadcaster) error {
			return b.PublishJobFailed(saveCtx, job.ID, string(job.Request.Kind), job.ErrorCategory, job.Error)
		})
		return nil
	}

	log.Info("Job processed", "status", job.Status, "entity_id", composed.Primary.ID, "duration_ms", duration.Milliseconds())
	w.publish(func(b *events.Broadcaster) error {
		return b.PublishJobCompleted(saveCtx, job.ID, string(job.Request.Kind), string(job.Status), composed.Primary.ID, duration.Milliseconds())
	})
	return nil
}

func (w *Worker) publish(fn func(*events.Broadcaster) error) {
	if w.broadcaster == nil {
		return
	}
	if err := fn(w.broadcaster); err != nil && !errors.Is(err, context.Canceled) {
		// Don't fail the job just because event publishing failed
		w.log.Warn("Failed to publish job event", "error", err, "worker_id", w.id)
	}
}
