package assembly

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

var titleCaser = cases.Title(language.English)

// abilityKeys maps ability names to the three-letter keys used on actor
// sheets.
var abilityKeys = map[string]string{
	"strength":     "str",
	"dexterity":    "dex",
	"constitution": "con",
	"intelligence": "int",
	"wisdom":       "wis",
	"charisma":     "cha",
}

var sizeKeys = map[string]string{
	"tiny":       "tiny",
	"small":      "sm",
	"medium":     "med",
	"large":      "lg",
	"huge":       "huge",
	"gargantuan": "grg",
}

// entryItemTypes maps an NPC sub-entity role to the item type it is
// stored as.
var entryItemTypes = map[string]string{
	RoleWeapon:    "weapon",
	RoleEquipment: "equipment",
	RoleAbility:   "feat",
}

func title(s string) string {
	return titleCaser.String(strings.TrimSpace(s))
}

func paragraph(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return "<p>" + html.EscapeString(s) + "</p>"
}

func section(heading, body string) string {
	p := paragraph(body)
	if p == "" {
		return ""
	}
	return "<h2>" + html.EscapeString(heading) + "</h2>" + p
}

func list(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<ul>")
	for _, it := range items {
		sb.WriteString("<li>" + html.EscapeString(it) + "</li>")
	}
	sb.WriteString("</ul>")
	return sb.String()
}

// npcFields maps an NPC onto an actor document. Stats are read back from
// the d20 actor so the sheet matches what validation accepted.
func npcFields(n *content.NPCContent) (storage.Fields, error) {
	actor, err := n.Actor()
	if err != nil {
		return nil, err
	}

	abilities := make(map[string]any, len(content.AbilityNames))
	for _, name := range content.AbilityNames {
		score, ok := actor.Attribute(name)
		if !ok {
			continue
		}
		abilities[abilityKeys[name]] = map[string]any{
			"value": score,
			"mod":   content.AbilityModifier(score),
		}
	}

	bio := strings.Join(nonEmpty(
		section("Appearance", n.Appearance),
		section("Biography", n.Biography),
		section("Personality Traits", n.PersonalityTraits),
		section("Ideals", n.Ideals),
		section("Bonds", n.Bonds),
		section("Flaws", n.Flaws),
	), "")

	size := sizeKeys[n.Size]
	if size == "" {
		size = "med"
	}

	return storage.Fields{
		"name": n.Name,
		"type": content.NPCCategory,
		"img":  "",
		"system": map[string]any{
			"abilities": abilities,
			"attributes": map[string]any{
				"ac":       map[string]any{"flat": actor.AC(), "calc": "flat"},
				"hp":       map[string]any{"value": actor.HP(), "max": actor.MaxHP()},
				"movement": map[string]any{"walk": n.Speed, "units": "ft"},
			},
			"details": map[string]any{
				"cr":         n.ChallengeRating,
				"alignment":  title(n.Alignment),
				"race":       title(n.Race),
				"background": title(n.Background),
				"biography":  map[string]any{"value": bio},
			},
			"traits": map[string]any{
				"size": size,
			},
		},
		"prototypeToken": map[string]any{
			"name":    n.Name,
			"texture": map[string]any{"src": ""},
		},
	}, nil
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// entryFields maps an NPC's weapon, equipment or ability onto an item
// document.
func entryFields(role string, e content.Entry) storage.Fields {
	desc := paragraph(e.Description)
	if e.Effect != "" {
		desc += "<p><strong>Effect:</strong> " + html.EscapeString(strings.TrimSpace(e.Effect)) + "</p>"
	}
	return storage.Fields{
		"name": e.Name,
		"type": entryItemTypes[role],
		"img":  "",
		"system": map[string]any{
			"description": map[string]any{"value": desc},
		},
	}
}

func itemFields(it *content.ItemContent) storage.Fields {
	desc := paragraph(it.Description)
	if it.Effect != "" {
		desc += "<p><strong>Effect:</strong> " + html.EscapeString(strings.TrimSpace(it.Effect)) + "</p>"
	}
	return storage.Fields{
		"name": it.Name,
		"type": it.Type,
		"img":  "",
		"system": map[string]any{
			"description": map[string]any{"value": desc},
			"rarity":      it.Rarity,
			"price":       map[string]any{"value": it.Price, "denomination": "gp"},
			"weight":      it.Weight,
		},
		"flags": map[string]any{
			"forge": map[string]any{"label": title(it.Rarity + " " + it.Type)},
		},
	}
}

// encounterFields builds the encounter summary document. Members are
// listed once each with their multiplicity, e.g. "Bandit x4".
func encounterFields(e *content.EncounterContent) storage.Fields {
	members := e.DistinctMembers()
	labels := make([]string, 0, len(members))
	for _, m := range members {
		label := m.Label()
		if m.ChallengeRating > 0 {
			label += fmt.Sprintf(" (CR %d)", m.ChallengeRating)
		}
		labels = append(labels, label)
	}

	body := strings.Join(nonEmpty(
		paragraph(e.Description),
		section("Objective", e.Objective),
		fmt.Sprintf("<p><strong>Challenge Rating:</strong> %d</p>", e.ChallengeRating),
	), "")
	if len(labels) > 0 {
		body += "<h2>Combatants</h2>" + list(labels)
	}

	return storage.Fields{
		"name":    e.Name,
		"img":     "",
		"content": body,
		"flags": map[string]any{
			"forge": map[string]any{
				"type":            "encounter",
				"challengeRating": e.ChallengeRating,
			},
		},
	}
}

func journalFields(name, entryType, description string) storage.Fields {
	return storage.Fields{
		"name":    name,
		"img":     "",
		"content": description,
		"flags": map[string]any{
			"forge": map[string]any{"type": entryType},
		},
	}
}

// page is an embedded journal page.
type page struct {
	name    string
	content string
}

func (p page) fields(sort int) storage.Fields {
	return storage.Fields{
		"name": p.name,
		"type": "text",
		"sort": sort,
		"text": map[string]any{"content": p.content, "format": 1},
	}
}

func questPages(q *content.QuestContent) []page {
	pages := []page{{name: "Overview", content: q.Description}}
	if len(q.Objectives) > 0 {
		pages = append(pages, page{name: "Objectives", content: list(q.Objectives)})
	}
	if len(q.Rewards) > 0 {
		pages = append(pages, page{name: "Rewards", content: list(q.Rewards)})
	}
	return pages
}

func puzzlePages(p *content.PuzzleContent) []page {
	pages := []page{{name: "Overview", content: p.Description}}
	if len(p.Hints) > 0 {
		pages = append(pages, page{name: "Hints", content: list(p.Hints)})
	}
	pages = append(pages, page{name: "Solution", content: paragraph(p.Solution)})
	if p.FailureConsequence != "" {
		pages = append(pages, page{name: "On Failure", content: paragraph(p.FailureConsequence)})
	}
	if p.Reward != "" {
		pages = append(pages, page{name: "Reward", content: paragraph(p.Reward)})
	}
	return pages
}

const defaultGridSize = 100

func sceneFields(s *content.SceneContent) storage.Fields {
	w, h := s.Width, s.Height
	if w <= 0 {
		w = 20
	}
	if h <= 0 {
		h = 20
	}
	return storage.Fields{
		"name":       s.Name,
		"width":      w * defaultGridSize,
		"height":     h * defaultGridSize,
		"grid":       map[string]any{"size": defaultGridSize},
		"background": map[string]any{"src": ""},
		"flags": map[string]any{
			"forge": map[string]any{"description": s.Description},
		},
	}
}

func tileFields(s *content.SceneContent) storage.Fields {
	w, h := s.Width, s.Height
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return storage.Fields{
		"name":    s.Name,
		"width":   w * defaultGridSize,
		"height":  h * defaultGridSize,
		"texture": map[string]any{"src": ""},
		"flags": map[string]any{
			"forge": map[string]any{"description": s.Description},
		},
	}
}

// slug makes a file-name-safe form of name.
func slug(name string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(sb.String(), "-")
	if len(out) > 40 {
		out = strings.TrimRight(out[:40], "-")
	}
	if out == "" {
		return "untitled"
	}
	return out
}

// assetPath returns ai-generated/<kind>/<kind>-<slug>-<id8>.png
func assetPath(kind content.Kind, name, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("ai-generated/%s/%s-%s-%s.png", kind, kind, slug(name), id)
}
