package content

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Structured is a kind-tagged oracle reply. Exactly one variant pointer is
// set, matching Kind.
type Structured struct {
	Kind      Kind              `json:"kind"`
	NPC       *NPCContent       `json:"npc,omitempty"`
	Encounter *EncounterContent `json:"encounter,omitempty"`
	Quest     *QuestContent     `json:"quest,omitempty"`
	Item      *ItemContent      `json:"item,omitempty"`
	Puzzle    *PuzzleContent    `json:"puzzle,omitempty"`
	Scene     *SceneContent     `json:"scene,omitempty"` // background and tile
}

// Decode maps validated JSON onto the typed variant for kind.
func Decode(kind Kind, data []byte) (*Structured, error) {
	s := &Structured{Kind: kind}
	var target any
	switch kind {
	case KindNPC:
		s.NPC = &NPCContent{}
		target = s.NPC
	case KindEncounter:
		s.Encounter = &EncounterContent{}
		target = s.Encounter
	case KindQuest:
		s.Quest = &QuestContent{}
		target = s.Quest
	case KindItem:
		s.Item = &ItemContent{}
		target = s.Item
	case KindPuzzle:
		s.Puzzle = &PuzzleContent{}
		target = s.Puzzle
	case KindBackground, KindTile:
		s.Scene = &SceneContent{}
		target = s.Scene
	default:
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s content: %w", kind, err)
	}
	s.normalize()
	return s, nil
}

// normalize replaces nil slices with empty ones.
func (s *Structured) normalize() {
	switch {
	case s.NPC != nil:
		s.NPC.Weapons = orEmpty(s.NPC.Weapons)
		s.NPC.Equipment = orEmpty(s.NPC.Equipment)
		s.NPC.Abilities = orEmpty(s.NPC.Abilities)
	case s.Encounter != nil:
		s.Encounter.NPCs = orEmpty(s.Encounter.NPCs)
	case s.Quest != nil:
		s.Quest.Objectives = orEmpty(s.Quest.Objectives)
		s.Quest.Rewards = orEmpty(s.Quest.Rewards)
	case s.Puzzle != nil:
		s.Puzzle.Hints = orEmpty(s.Puzzle.Hints)
	}
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// Name returns the generated object's name.
func (s *Structured) Name() string {
	switch {
	case s.NPC != nil:
		return s.NPC.Name
	case s.Encounter != nil:
		return s.Encounter.Name
	case s.Quest != nil:
		return s.Quest.Name
	case s.Item != nil:
		return s.Item.Name
	case s.Puzzle != nil:
		return s.Puzzle.Name
	case s.Scene != nil:
		return s.Scene.Name
	}
	return ""
}

// ImageGenerationPrompt returns the object's own image description, falling
// back to its description when the oracle left it empty.
func (s *Structured) ImageGenerationPrompt() string {
	var prompt, fallback string
	switch {
	case s.NPC != nil:
		prompt, fallback = s.NPC.ImageGenerationPrompt, s.NPC.Appearance
	case s.Encounter != nil:
		prompt, fallback = s.Encounter.ImageGenerationPrompt, s.Encounter.Description
	case s.Quest != nil:
		prompt, fallback = s.Quest.ImageGenerationPrompt, s.Quest.Name
	case s.Item != nil:
		prompt, fallback = s.Item.ImageGenerationPrompt, s.Item.Description
	case s.Puzzle != nil:
		prompt, fallback = s.Puzzle.ImageGenerationPrompt, s.Puzzle.Name
	case s.Scene != nil:
		prompt, fallback = s.Scene.ImageGenerationPrompt, s.Scene.Description
	}
	if prompt != "" {
		return prompt
	}
	return fallback
}

// GeneratedAsset is a raster produced by the image oracle. It is consumed
// once by assembly and never retained.
type GeneratedAsset struct {
	Data              []byte `json:"-"`
	MimeType          string `json:"mime_type"`
	BackgroundRemoved bool   `json:"background_removed"`
}

// Base64 returns the pixels in the encoding the image oracle expects.
func (a *GeneratedAsset) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}
