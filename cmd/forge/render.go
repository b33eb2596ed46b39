package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/pkg/content"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")). // green
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// renderSummary formats a composed entity for the terminal.
func renderSummary(c *assembly.ComposedEntity, width int) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", c.Kind, c.Name)))
	sb.WriteString("\n")

	path := make([]string, 0, len(c.Containers))
	for _, ct := range c.Containers {
		path = append(path, ct.Name)
	}
	sb.WriteString(promptStyle.Render(fmt.Sprintf("%s %s in %s", c.Primary.Kind, c.Primary.ID, strings.Join(path, " / "))))
	sb.WriteString("\n")

	if desc := describe(c.Content); desc != "" {
		sb.WriteString("\n")
		sb.WriteString(wordwrap.String(desc, width))
		sb.WriteString("\n")
	}

	roles := []struct{ role, heading string }{
		{assembly.RoleWeapon, "Weapons"},
		{assembly.RoleEquipment, "Equipment"},
		{assembly.RoleAbility, "Abilities"},
		{assembly.RoleNPC, "Combatants"},
		{assembly.RolePage, "Pages"},
	}
	for _, r := range roles {
		subs := c.SubEntitiesByRole(r.role)
		if len(subs) == 0 {
			continue
		}
		sb.WriteString("\n" + headingStyle.Render(r.heading) + "\n")
		for _, s := range subs {
			sb.WriteString("  - " + s.Name + "\n")
		}
	}

	if c.AssetPath != "" {
		sb.WriteString("\n" + headingStyle.Render("Image") + "\n  " + c.AssetPath + "\n")
	}

	if failures := c.Failures(); len(failures) > 0 {
		sb.WriteString("\n" + errorStyle.Render(fmt.Sprintf("Incomplete: %d sub-entities failed", len(failures))) + "\n")
		for _, f := range failures {
			sb.WriteString(errorStyle.Render(wordwrap.String(fmt.Sprintf("  - %s %q: %v", f.Role, f.Name, f.Err), width)) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// describe picks the narrative text worth showing for s, without markup.
func describe(s *content.Structured) string {
	if s == nil {
		return ""
	}
	var text string
	switch {
	case s.NPC != nil:
		text = s.NPC.Biography
		if text == "" {
			text = s.NPC.Appearance
		}
	case s.Encounter != nil:
		text = s.Encounter.Description
	case s.Quest != nil:
		text = s.Quest.Description
	case s.Item != nil:
		text = s.Item.Description
	case s.Puzzle != nil:
		text = s.Puzzle.Description
	case s.Scene != nil:
		text = s.Scene.Description
	}
	return strings.TrimSpace(htmlTag.ReplaceAllString(text, " "))
}
