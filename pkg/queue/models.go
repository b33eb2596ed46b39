package queue

import (
	"encoding/json"
	"time"

	"github.com/jwebster45206/vtt-forge/pkg/content"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial" // primary entity created, some sub-entities failed
	StatusFailed    Status = "failed"
)

// Done reports whether the job has reached a final state.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusPartial || s == StatusFailed
}

// Job is one queued generation request and its outcome.
type Job struct {
	ID      string                    `json:"id"`
	Request content.GenerationRequest `json:"request"`
	Status  Status                    `json:"status"`

	// Result holds the composed entity JSON once the job has finished
	// with a primary entity.
	Result json.RawMessage `json:"result,omitempty"`

	Error         string `json:"error,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	WorkerID      string `json:"worker_id,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ToJSON converts the job to JSON bytes for Redis
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON parses a job from JSON bytes
func FromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
