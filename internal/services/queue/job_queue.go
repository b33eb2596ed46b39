package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/queue"
)

const (
	jobsKey = "forge:jobs"

	// DefaultJobTTL is how long a job record is kept after its last update.
	DefaultJobTTL = 24 * time.Hour
)

// ErrJobNotFound is returned when no record exists for a job ID.
var ErrJobNotFound = errors.New("job not found")

func jobKey(id string) string {
	return "forge:job:" + id
}

// JobQueue is a FIFO of generation jobs. Producers LPUSH job IDs, workers
// BRPOP them; the job record itself lives under its own key.
type JobQueue struct {
	client *Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewJobQueue(client *Client, logger *slog.Logger) *JobQueue {
	return &JobQueue{
		client: client,
		ttl:    DefaultJobTTL,
		logger: logger,
	}
}

// Enqueue validates req, stores a queued job record and pushes it.
func (q *JobQueue) Enqueue(ctx context.Context, req content.GenerationRequest) (*queue.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job := &queue.Job{
		ID:         uuid.NewString(),
		Request:    req,
		Status:     queue.StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := job.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job: %w", err)
	}

	_, err = q.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, q.ttl)
		pipe.LPush(ctx, jobsKey, job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info("Job enqueued", "job_id", job.ID, "kind", req.Kind)
	return job, nil
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when
// the wait times out. IDs whose record has expired are skipped.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	result, err := q.client.rdb.BRPop(ctx, timeout, jobsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BRPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPop result: %v", result)
	}

	job, err := q.Get(ctx, result[1])
	if errors.Is(err, ErrJobNotFound) {
		q.logger.Warn("Dropping job with no record", "job_id", result[1])
		return nil, nil
	}
	return job, err
}

// Get loads a job record.
func (q *JobQueue) Get(ctx context.Context, id string) (*queue.Job, error) {
	data, err := q.client.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	job, err := queue.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", id, err)
	}
	return job, nil
}

// Save overwrites the job record and refreshes its TTL.
func (q *JobQueue) Save(ctx context.Context, job *queue.Job) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	if err := q.client.rdb.Set(ctx, jobKey(job.ID), data, q.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Depth returns the number of jobs waiting.
func (q *JobQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, jobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}
