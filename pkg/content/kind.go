package content

import (
	"fmt"
	"strings"
)

// Kind selects the schema, prompt template and assembly shape for a request.
type Kind string

const (
	KindNPC        Kind = "npc"
	KindEncounter  Kind = "encounter"
	KindQuest      Kind = "quest"
	KindItem       Kind = "item"
	KindPuzzle     Kind = "puzzle"
	KindBackground Kind = "background"
	KindTile       Kind = "tile"
)

// AllKinds returns every supported kind in display order.
func AllKinds() []Kind {
	return []Kind{KindNPC, KindEncounter, KindQuest, KindItem, KindPuzzle, KindBackground, KindTile}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Rated reports whether a challenge rating applies to k. Scenery has none.
func (k Kind) Rated() bool {
	return k != KindBackground && k != KindTile
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown content kind %q", s)
	}
	return k, nil
}
