package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeJobQueued    EventType = "job.queued"
	EventTypeJobRunning   EventType = "job.running"
	EventTypeJobCompleted EventType = "job.completed"
	EventTypeJobFailed    EventType = "job.failed"
)

// AllJobsChannel receives every job event.
const AllJobsChannel = "forge:job-events"

// JobChannel returns the channel that receives events for one job.
func JobChannel(jobID string) string {
	return AllJobsChannel + ":" + jobID
}

// Event represents a generic event structure
type Event struct {
	Type  EventType      `json:"type"`
	JobID string         `json:"job_id"`
	Kind  string         `json:"kind,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Broadcaster publishes job lifecycle events to Redis Pub/Sub.
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishJobQueued publishes a job.queued event
func (b *Broadcaster) PublishJobQueued(ctx context.Context, jobID, kind string) error {
	return b.publish(ctx, Event{
		Type:  EventTypeJobQueued,
		JobID: jobID,
		Kind:  kind,
		Data:  map[string]any{"status": "queued"},
	})
}

// PublishJobRunning publishes a job.running event
func (b *Broadcaster) PublishJobRunning(ctx context.Context, jobID, kind, workerID string) error {
	return b.publish(ctx, Event{
		Type:  EventTypeJobRunning,
		JobID: jobID,
		Kind:  kind,
		Data:  map[string]any{"status": "running", "worker_id": workerID},
	})
}

// PublishJobCompleted publishes a job.completed event. status is
// succeeded or partial.
func (b *Broadcaster) PublishJobCompleted(ctx context.Context, jobID, kind, status, entityID string, durationMS int64) error {
	return b.publish(ctx, Event{
		Type:  EventTypeJobCompleted,
		JobID: jobID,
		Kind:  kind,
		Data: map[string]any{
			"status":      status,
			"entity_id":   entityID,
			"duration_ms": durationMS,
		},
	})
}

// PublishJobFailed publishes a job.failed event
func (b *Broadcaster) PublishJobFailed(ctx context.Context, jobID, kind, category, errorMsg string) error {
	return b.publish(ctx, Event{
		Type:  EventTypeJobFailed,
		JobID: jobID,
		Kind:  kind,
		Data: map[string]any{
			"status":         "failed",
			"error":          errorMsg,
			"error_category": category,
		},
	})
}

// publish sends event to the job's channel and to the all-jobs channel.
func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event", event)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	for _, channel := range []string{JobChannel(event.JobID), AllJobsChannel} {
		if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
			b.logger.Error("Failed to publish event", "error", err, "channel", channel)
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}

	b.logger.Debug("Event published",
		"event_type", event.Type,
		"job_id", event.JobID)
	return nil
}
