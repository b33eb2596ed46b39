package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/vtt-forge/internal/services"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
)

// ErrInvalidRequest marks requests rejected before any oracle call.
var ErrInvalidRequest = errors.New("invalid request")

// Generator turns a GenerationRequest into validated structured content
// and, optionally, a rendered image.
type Generator struct {
	text   services.TextOracle
	image  services.ImageOracle
	table  *schemas.Table
	logger *slog.Logger
}

// New creates a Generator. image may be nil when image generation is not
// configured; requests with IncludeImage then fail.
func New(text services.TextOracle, image services.ImageOracle, table *schemas.Table, logger *slog.Logger) *Generator {
	return &Generator{
		text:   text,
		image:  image,
		table:  table,
		logger: logger,
	}
}

// Template returns the template for kind.
func (g *Generator) Template(kind content.Kind) (*schemas.Template, error) {
	return g.table.Template(kind)
}

// Generate builds the prompt for req, asks the text oracle once, and
// validates the reply. A reply that is not JSON or does not fit the
// kind's schema fails with *errs.SchemaViolation.
func (g *Generator) Generate(ctx context.Context, req content.GenerationRequest) (*content.Structured, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	tmpl, err := g.table.Template(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	system, user, err := schemas.NewBuilder(tmpl).
		WithUserPrompt(req.UserPrompt).
		WithChallengeRating(req.ChallengeRating).
		Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	start := time.Now()
	raw, err := g.text.Generate(ctx, system, user)
	if err != nil {
		var sv *errs.SchemaViolation
		if errors.As(err, &sv) && sv.Kind == "" {
			sv.Kind = string(req.Kind)
		}
		g.logger.Error("text generation failed", "kind", req.Kind, "error", err)
		return nil, err
	}
	g.logger.Debug("text generated", "kind", req.Kind, "duration", time.Since(start), "bytes", len(raw))

	return g.Parse(req, raw)
}

// Parse validates a raw oracle reply for req.Kind and decodes it.
func (g *Generator) Parse(req content.GenerationRequest, raw []byte) (*content.Structured, error) {
	tmpl, err := g.table.Template(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	repaired, problems := tmpl.Validate(raw)
	if len(problems) > 0 {
		g.logger.Warn("oracle reply failed validation", "kind", req.Kind, "problems", problems)
		return nil, &errs.SchemaViolation{Kind: string(req.Kind), Problems: problems}
	}

	data, err := json.Marshal(repaired)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal repaired reply: %w", err)
	}
	s, err := content.Decode(req.Kind, data)
	if err != nil {
		return nil, &errs.SchemaViolation{Kind: string(req.Kind), Err: err}
	}

	if s.NPC != nil {
		if _, err := s.NPC.Actor(); err != nil {
			return nil, &errs.SchemaViolation{Kind: string(req.Kind), Problems: []string{err.Error()}, Err: err}
		}
	}

	if req.ChallengeRating != nil {
		if got, ok := challengeRating(s); ok && got != *req.ChallengeRating {
			g.logger.Warn("challenge rating differs from request",
				"kind", req.Kind,
				"name", s.Name(),
				"requested", *req.ChallengeRating,
				"got", got)
		}
	}
	return s, nil
}

func challengeRating(s *content.Structured) (int, bool) {
	switch {
	case s.NPC != nil:
		return s.NPC.ChallengeRating, true
	case s.Encounter != nil:
		return s.Encounter.ChallengeRating, true
	}
	return 0, false
}

// ImagePrompt derives the image prompt for s. An override wins; otherwise
// the content's own image description is wrapped in the kind's style.
func (g *Generator) ImagePrompt(req content.GenerationRequest, s *content.Structured) (string, error) {
	if req.ImagePromptOverride != "" {
		return req.ImagePromptOverride, nil
	}
	tmpl, err := g.table.Template(s.Kind)
	if err != nil {
		return "", err
	}
	return tmpl.ImagePrompt(s.ImageGenerationPrompt()), nil
}

// RemoveBackground reports whether the image for req should have its
// background removed.
func (g *Generator) RemoveBackground(req content.GenerationRequest) bool {
	if req.RemoveBackground != nil {
		return *req.RemoveBackground
	}
	tmpl, err := g.table.Template(req.Kind)
	if err != nil {
		return false
	}
	return tmpl.RemoveBackground
}

// RenderAsset renders the image for s. It returns nil, nil when req does
// not ask for an image, and makes no image call in that case.
func (g *Generator) RenderAsset(ctx context.Context, req content.GenerationRequest, s *content.Structured) (*content.GeneratedAsset, error) {
	if !req.IncludeImage {
		return nil, nil
	}
	if g.image == nil {
		return nil, errors.New("image generation is not configured")
	}
	prompt, err := g.ImagePrompt(req, s)
	if err != nil {
		return nil, err
	}
	removeBG := g.RemoveBackground(req)

	start := time.Now()
	asset, err := g.image.Render(ctx, prompt, removeBG)
	if err != nil {
		return nil, err
	}
	g.logger.Info("image rendered",
		"kind", s.Kind,
		"name", s.Name(),
		"background_removed", asset.BackgroundRemoved,
		"bytes", len(asset.Data),
		"duration", time.Since(start))
	return asset, nil
}
