package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/vtt-forge/internal/services/queue"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	queuePkg "github.com/jwebster45206/vtt-forge/pkg/queue"
)

// JobStore is the part of the job queue the API uses.
type JobStore interface {
	Enqueue(ctx context.Context, req content.GenerationRequest) (*queuePkg.Job, error)
	Get(ctx context.Context, id string) (*queuePkg.Job, error)
}

var _ JobStore = (*queue.JobQueue)(nil)

// JobNotifier announces newly queued jobs. Optional.
type JobNotifier interface {
	PublishJobQueued(ctx context.Context, jobID, kind string) error
}

type EnqueueResponse struct {
	JobID  string          `json:"job_id"`
	Status queuePkg.Status `json:"status"`
}

// JobsHandler serves POST /v1/jobs and GET /v1/jobs/{id}.
type JobsHandler struct {
	jobs     JobStore
	notifier JobNotifier
	logger   *slog.Logger
}

func NewJobsHandler(jobs JobStore, notifier JobNotifier, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:     jobs,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/jobs"), "/")

	switch {
	case r.Method == http.MethodPost && id == "":
		h.handleEnqueue(w, r)
	case r.Method == http.MethodGet && id != "":
		h.handleGet(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *JobsHandler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req content.GenerationRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body: "+err.Error(), "invalid")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error(), "invalid")
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to enqueue job", "kind", req.Kind, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to enqueue job", "")
		return
	}
	if h.notifier != nil {
		if err := h.notifier.PublishJobQueued(r.Context(), job.ID, string(req.Kind)); err != nil {
			h.logger.Warn("Failed to publish queued event", "job_id", job.ID, "error", err)
		}
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, h.logger, http.StatusAccepted, EnqueueResponse{JobID: job.ID, Status: job.Status})
}

func (h *JobsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if strings.Contains(id, "/") {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid job ID", "")
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Job not found", "")
			return
		}
		h.logger.Error("Failed to load job", "job_id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load job", "")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, job)
}
