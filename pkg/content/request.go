package content

import "fmt"

// GenerationRequest is one caller request to generate and assemble content.
type GenerationRequest struct {
	Kind                Kind   `json:"kind"`
	UserPrompt          string `json:"prompt"`
	ChallengeRating     *int   `json:"challenge_rating,omitempty"`
	IncludeImage        bool   `json:"include_image"`
	ImagePromptOverride string `json:"image_prompt,omitempty"`

	// RemoveBackground overrides the kind's default when set.
	RemoveBackground *bool `json:"remove_background,omitempty"`
}

// Validate checks the request before any oracle is called.
func (r *GenerationRequest) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown content kind %q", r.Kind)
	}
	if r.ChallengeRating != nil {
		if !r.Kind.Rated() {
			return fmt.Errorf("challenge rating does not apply to %s", r.Kind)
		}
		if *r.ChallengeRating <= 0 {
			return fmt.Errorf("challenge rating must be a positive integer, got %d", *r.ChallengeRating)
		}
	}
	return nil
}
