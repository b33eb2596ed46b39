package schemas

import (
	"fmt"
	"strconv"
	"strings"
)

// Builder renders the system and user prompts for one generation request.
type Builder struct {
	tmpl            *Template
	userPrompt      string
	challengeRating *int
}

// NewBuilder creates a prompt builder for the given kind template.
func NewBuilder(tmpl *Template) *Builder {
	return &Builder{tmpl: tmpl}
}

// WithUserPrompt sets the caller's free-text prompt.
func (b *Builder) WithUserPrompt(prompt string) *Builder {
	b.userPrompt = prompt
	return b
}

// WithChallengeRating adds a hard challenge rating constraint. nil clears it.
func (b *Builder) WithChallengeRating(cr *int) *Builder {
	b.challengeRating = cr
	return b
}

// Build returns the system prompt and the user prompt.
func (b *Builder) Build() (string, string, error) {
	if b.tmpl == nil {
		return "", "", fmt.Errorf("template is required")
	}
	if b.challengeRating != nil && *b.challengeRating <= 0 {
		return "", "", fmt.Errorf("challenge rating must be positive, got %d", *b.challengeRating)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(b.tmpl.Instructions))
	sb.WriteString("\n\nGive your response in the following JSON format:\n")
	sb.WriteString(FormatBlock(b.tmpl.Fields))

	if b.tmpl.table != nil && b.tmpl.table.BalancingRules != "" && usesChallengeRating(b.tmpl.Fields) {
		sb.WriteString("\n\nBalancing rules:\n")
		sb.WriteString(strings.TrimSpace(b.tmpl.table.BalancingRules))
	}

	if b.challengeRating != nil && b.tmpl.ChallengeRatingText != "" {
		sb.WriteString("\n\nIMPORTANT: ")
		sb.WriteString(strings.ReplaceAll(b.tmpl.ChallengeRatingText, "{cr}", strconv.Itoa(*b.challengeRating)))
	}

	if b.tmpl.table != nil && b.tmpl.table.JSONOnly != "" {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(b.tmpl.table.JSONOnly))
	}

	user := strings.TrimSpace(b.userPrompt)
	if user == "" {
		random := "Create a completely random {kind}."
		if b.tmpl.table != nil && b.tmpl.table.RandomPrompt != "" {
			random = b.tmpl.table.RandomPrompt
		}
		label := b.tmpl.Label
		if label == "" {
			label = string(b.tmpl.Kind)
		}
		user = strings.ReplaceAll(random, "{kind}", label)
	}

	return sb.String(), user, nil
}

func usesChallengeRating(fields []Field) bool {
	for _, f := range fields {
		if f.Name == "challengeRating" {
			return true
		}
	}
	return false
}

// FormatBlock renders fields as an annotated JSON skeleton, e.g.
//
//	{
//	    "name": "NAME",    // String (required). the character's name
//	    "size": "SIZE",    // One of: tiny, small, medium
//	}
func FormatBlock(fields []Field) string {
	var sb strings.Builder
	writeObject(&sb, fields, 0)
	return sb.String()
}

func writeObject(sb *strings.Builder, fields []Field, depth int) {
	pad := strings.Repeat("    ", depth)
	sb.WriteString("{\n")
	for i, f := range fields {
		sb.WriteString(pad + "    " + strconv.Quote(f.Name) + ": ")
		sep := ","
		if i == len(fields)-1 {
			sep = ""
		}
		switch f.Type {
		case TypeObject:
			writeObject(sb, f.Fields, depth+1)
			sb.WriteString(sep + "    // " + annotation(f) + "\n")
		case TypeArray:
			sb.WriteString("[    // " + annotation(f) + "\n")
			sb.WriteString(pad + "        ")
			if f.Items == TypeObject {
				writeObject(sb, f.Fields, depth+2)
			} else {
				sb.WriteString(strconv.Quote(placeholder(f.Name)))
			}
			sb.WriteString("\n" + pad + "    ]" + sep + "\n")
		default:
			sb.WriteString(strconv.Quote(placeholder(f.Name)) + sep + "    // " + annotation(f) + "\n")
		}
	}
	sb.WriteString(pad + "}")
}

func placeholder(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			sb.WriteByte('_')
		}
		sb.WriteRune(r)
	}
	return strings.ToUpper(sb.String())
}

func annotation(f Field) string {
	var kind string
	switch f.Type {
	case TypeString:
		kind = "String"
	case TypeHTML:
		kind = "String of HTML"
	case TypeInteger:
		kind = "Integer"
	case TypeObject:
		kind = "Object"
	case TypeArray:
		if f.Items == TypeObject {
			kind = "Array of objects"
		} else {
			kind = "Array of strings"
		}
	}
	if f.Required {
		kind += " (required)"
	}
	if len(f.Enum) > 0 {
		kind += ", one of: " + strings.Join(f.Enum, ", ")
	}
	if f.Minimum != nil {
		kind += fmt.Sprintf(", at least %d", *f.Minimum)
	}
	if f.Description != "" {
		kind += ". " + f.Description
	}
	return kind
}
