package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/pkg/content"
)

// Runner generates and assembles content for one request.
type Runner interface {
	Run(ctx context.Context, req content.GenerationRequest) (*assembly.ComposedEntity, error)
}

// GenerateHandler runs the pipeline synchronously. A partial assembly is
// still a 200; its failures are listed under "errors".
type GenerateHandler struct {
	runner Runner
	logger *slog.Logger
}

func NewGenerateHandler(runner Runner, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{
		runner: runner,
		logger: logger,
	}
}

func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req content.GenerationRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.logger.Warn("Invalid generate request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body: "+err.Error(), "invalid")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error(), "invalid")
		return
	}

	composed, err := h.runner.Run(r.Context(), req)
	if err != nil {
		status, category := statusFor(err)
		h.logger.Error("Generation failed", "kind", req.Kind, "status", status, "error", err)
		writeError(w, h.logger, status, err.Error(), category)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, composed)
}
