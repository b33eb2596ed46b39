package content

import (
	"fmt"
	"math"

	"github.com/jwebster45206/d20"
)

// NPCCategory is the canonical type tag stored on generated NPC actors.
const NPCCategory = "npc"

// Attributes are the six core ability scores.
type Attributes struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// ToMap converts the scores to a map keyed by lower-case ability name.
func (a Attributes) ToMap() map[string]int {
	return map[string]int{
		"strength":     a.Strength,
		"dexterity":    a.Dexterity,
		"constitution": a.Constitution,
		"intelligence": a.Intelligence,
		"wisdom":       a.Wisdom,
		"charisma":     a.Charisma,
	}
}

// AbilityNames lists the ability keys in sheet order.
var AbilityNames = []string{"strength", "dexterity", "constitution", "intelligence", "wisdom", "charisma"}

// AbilityModifier returns the 5e modifier for a score, rounding down.
func AbilityModifier(score int) int {
	return int(math.Floor(float64(score-10) / 2))
}

// Entry is a weapon, piece of equipment or ability carried by an NPC.
type Entry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Effect      string `json:"effect"`
}

// NPCContent is the structured reply for KindNPC.
type NPCContent struct {
	Name                  string     `json:"name"`
	Appearance            string     `json:"appearance"`
	ImageGenerationPrompt string     `json:"imageGenerationPrompt"`
	Alignment             string     `json:"alignment"`
	Race                  string     `json:"race"`
	Background            string     `json:"background"`
	Biography             string     `json:"biography"`
	PersonalityTraits     string     `json:"personalityTraits"`
	Ideals                string     `json:"ideals"`
	Bonds                 string     `json:"bonds"`
	Flaws                 string     `json:"flaws"`
	ChallengeRating       int        `json:"challengeRating"`
	Size                  string     `json:"size"`
	Attributes            Attributes `json:"attributes"`
	ArmorClass            int        `json:"armorClass"`
	HitPoints             int        `json:"hitPoints"`
	Speed                 int        `json:"speed"`
	Weapons               []Entry    `json:"weapons"`
	Equipment             []Entry    `json:"equipment"`
	Abilities             []Entry    `json:"abilities"`
}

// Actor builds the d20 stat block for the NPC.
func (n *NPCContent) Actor() (*d20.Actor, error) {
	if n.HitPoints <= 0 {
		return nil, fmt.Errorf("hitPoints must be positive, got %d", n.HitPoints)
	}
	if n.ArmorClass <= 0 {
		return nil, fmt.Errorf("armorClass must be positive, got %d", n.ArmorClass)
	}
	actor, err := d20.NewActor(n.Name).
		WithHP(n.HitPoints).
		WithAC(n.ArmorClass).
		WithAttributes(n.Attributes.ToMap()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build actor: %w", err)
	}
	return actor, nil
}
