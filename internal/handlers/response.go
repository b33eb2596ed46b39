package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
)

// maxRequestBody caps generation request bodies.
const maxRequestBody = 1 << 20

type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg, category string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg, Category: category})
}

// statusFor maps a generation error to an HTTP status and category.
func statusFor(err error) (int, string) {
	if errors.Is(err, generator.ErrInvalidRequest) {
		return http.StatusBadRequest, "invalid"
	}
	category := errs.Category(err)
	switch category {
	case errs.CategorySchema:
		return http.StatusUnprocessableEntity, category
	case errs.CategoryTransport:
		return http.StatusBadGateway, category
	default:
		return http.StatusInternalServerError, category
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
