package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jwebster45206/vtt-forge/pkg/content"
)

// TextOracle turns a system prompt and a user prompt into one JSON reply.
type TextOracle interface {
	// Generate sends the two-message exchange and returns the reply body.
	// The body is guaranteed to parse as JSON; it is not checked against
	// any schema.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)
}

// ImageOracle renders a raster asset for a prompt.
type ImageOracle interface {
	Render(ctx context.Context, prompt string, removeBackground bool) (*content.GeneratedAsset, error)
}

// extractJSON strips markdown fences and leading prose from an oracle reply.
func extractJSON(text string) string {
	txt := strings.TrimSpace(text)

	// Remove markdown code blocks if present
	if strings.HasPrefix(txt, "```") {
		lines := strings.Split(txt, "\n")
		startIdx := 1
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
				endIdx = i
				break
			}
		}
		if startIdx < endIdx {
			txt = strings.Join(lines[startIdx:endIdx], "\n")
		}
	}

	// Look for the JSON object in mixed content
	txt = strings.TrimSpace(txt)
	if !strings.HasPrefix(txt, "{") && !strings.HasPrefix(txt, "[") {
		if start := strings.Index(txt, "{"); start >= 0 {
			txt = txt[start:]
		}
	}
	if end := strings.LastIndex(txt, "}"); end >= 0 && strings.HasPrefix(txt, "{") {
		txt = txt[:end+1]
	}
	return strings.TrimSpace(txt)
}
