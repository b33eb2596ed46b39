package content

import "fmt"

// EncounterMember summarizes one NPC type taking part in an encounter.
// Count is in-narrative multiplicity; one generated NPC document stands
// for every copy.
type EncounterMember struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ChallengeRating int    `json:"challengeRating"`
	Count           int    `json:"count"`
}

// Label renders the member the way it appears in summaries, e.g. "Bandit x4".
func (m EncounterMember) Label() string {
	return fmt.Sprintf("%s x%d", m.Name, m.Count)
}

// EncounterContent is the structured reply for KindEncounter.
type EncounterContent struct {
	Name                  string            `json:"name"`
	Description           string            `json:"description"`
	Objective             string            `json:"objective"`
	ImageGenerationPrompt string            `json:"imageGenerationPrompt"`
	ChallengeRating       int               `json:"challengeRating"`
	NPCs                  []EncounterMember `json:"npcs"`
}

// DistinctMembers returns one member per distinct name, keeping first
// occurrence order and summing counts of duplicates. The first entry's
// description and rating win; MemberConflicts reports what was dropped.
func (e *EncounterContent) DistinctMembers() []EncounterMember {
	index := make(map[string]int)
	out := make([]EncounterMember, 0, len(e.NPCs))
	for _, m := range e.NPCs {
		if i, ok := index[m.Name]; ok {
			out[i].Count += m.Count
			continue
		}
		index[m.Name] = len(out)
		out = append(out, m)
	}
	return out
}

// MemberConflict is a duplicate member entry whose details differ from the
// first entry with the same name.
type MemberConflict struct {
	Name    string
	Field   string
	Kept    any
	Dropped any
}

// MemberConflicts lists the details DistinctMembers discards.
func (e *EncounterContent) MemberConflicts() []MemberConflict {
	first := make(map[string]EncounterMember)
	var out []MemberConflict
	for _, m := range e.NPCs {
		f, ok := first[m.Name]
		if !ok {
			first[m.Name] = m
			continue
		}
		if m.ChallengeRating != f.ChallengeRating {
			out = append(out, MemberConflict{Name: m.Name, Field: "challengeRating", Kept: f.ChallengeRating, Dropped: m.ChallengeRating})
		}
		if m.Description != f.Description {
			out = append(out, MemberConflict{Name: m.Name, Field: "description", Kept: f.Description, Dropped: m.Description})
		}
	}
	return out
}
