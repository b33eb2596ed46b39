package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/queue"
)

// CategoryInvalid marks jobs whose request was rejected before any oracle
// call.
const CategoryInvalid = "invalid"

// Runner is the generation and assembly entry point a job runs through.
type Runner interface {
	Run(ctx context.Context, req content.GenerationRequest) (*assembly.ComposedEntity, error)
}

var _ Runner = (*assembly.Pipeline)(nil)

// JobProcessor runs one job and records its outcome on the job.
type JobProcessor struct {
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewJobProcessor creates a processor. timeout bounds one whole job; zero
// means no bound beyond the caller's context.
func NewJobProcessor(runner Runner, timeout time.Duration, logger *slog.Logger) *JobProcessor {
	return &JobProcessor{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// Process runs job.Request and sets Status, Result and the error fields.
// It returns the composed entity when a primary entity was created.
func (p *JobProcessor) Process(ctx context.Context, job *queue.Job) *assembly.ComposedEntity {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	composed, err := p.runner.Run(ctx, job.Request)
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err != nil {
		job.Status = queue.StatusFailed
		job.Error = err.Error()
		job.ErrorCategory = errs.Category(err)
		if errors.Is(err, generator.ErrInvalidRequest) {
			job.ErrorCategory = CategoryInvalid
		}
		p.logger.Error("Job failed", "job_id", job.ID, "kind", job.Request.Kind, "category", job.ErrorCategory, "error", err)
		return nil
	}

	result, err := json.Marshal(composed)
	if err != nil {
		// the entities exist; only the report is lost
		p.logger.Error("Failed to encode job result", "job_id", job.ID, "error", err)
	}
	job.Result = result
	job.Status = queue.StatusSucceeded
	if failure := composed.Err(); failure != nil {
		job.Status = queue.StatusPartial
		job.Error = failure.Error()
		job.ErrorCategory = errs.CategoryPartial
	}
	return composed
}
