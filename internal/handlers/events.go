package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/vtt-forge/internal/services/events"
	"github.com/jwebster45206/vtt-forge/internal/services/queue"
	queuePkg "github.com/jwebster45206/vtt-forge/pkg/queue"
)

const keepaliveInterval = 30 * time.Second

// JobLookup reads a job's current state.
type JobLookup interface {
	Get(ctx context.Context, id string) (*queuePkg.Job, error)
}

// EventsHandler streams job events as Server-Sent Events.
//
//	GET /v1/events/jobs       every job
//	GET /v1/events/jobs/{id}  one job; the stream ends when the job finishes
type EventsHandler struct {
	redisClient *redis.Client
	jobs        JobLookup
	keepalive   time.Duration
	logger      *slog.Logger
}

func NewEventsHandler(redisClient *redis.Client, jobs JobLookup, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		redisClient: redisClient,
		jobs:        jobs,
		keepalive:   keepaliveInterval,
		logger:      logger,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.", "")
		return
	}

	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/events/jobs"), "/")
	if strings.Contains(jobID, "/") {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/events/jobs/{jobID}", "")
		return
	}
	channel := events.AllJobsChannel
	if jobID != "" {
		if _, err := uuid.Parse(jobID); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid job ID format.", "")
			return
		}
		channel = events.JobChannel(jobID)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "Streaming unsupported.", "")
		return
	}

	ctx := r.Context()
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	// Wait for the subscription so nothing published after the job
	// lookup below can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("Failed to subscribe", "error", err, "channel", channel)
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream unavailable.", "")
		return
	}

	var job *queuePkg.Job
	if jobID != "" && h.jobs != nil {
		var err error
		job, err = h.jobs.Get(ctx, jobID)
		if errors.Is(err, queue.ErrJobNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Job not found.", "")
			return
		}
		if err != nil {
			h.logger.Error("Failed to load job", "error", err, "job_id", jobID)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to load job.", "")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("SSE connection established", "job_id", jobID, "remote_addr", r.RemoteAddr)

	h.sendSSE(w, "connected", map[string]any{
		"job_id":  jobID,
		"message": "Connected to event stream",
	})

	if job != nil && job.Status.Done() {
		h.sendSSE(w, string(finalEventType(job.Status)), snapshot(job))
		return
	}

	msgChan := pubsub.Channel()
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", "job_id", jobID)
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			h.sendSSE(w, string(event.Type), event)
			if jobID != "" && (event.Type == events.EventTypeJobCompleted || event.Type == events.EventTypeJobFailed) {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func finalEventType(s queuePkg.Status) events.EventType {
	if s == queuePkg.StatusFailed {
		return events.EventTypeJobFailed
	}
	return events.EventTypeJobCompleted
}

// snapshot renders a finished job in the shape of its final event.
func snapshot(job *queuePkg.Job) events.Event {
	data := map[string]any{"status": string(job.Status)}
	if job.Error != "" {
		data["error"] = job.Error
		data["error_category"] = job.ErrorCategory
	}
	return events.Event{
		Type:  finalEventType(job.Status),
		JobID: job.ID,
		Kind:  string(job.Request.Kind),
		Data:  data,
	}
}

// sendSSE writes one event and flushes it.
func (h *EventsHandler) sendSSE(w http.ResponseWriter, eventType string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
