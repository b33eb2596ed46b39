package schemas

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/vtt-forge/pkg/content"
)

//go:embed templates.yaml
var templatesYAML []byte

// Field types understood by the validator and prompt renderer
const (
	TypeString  = "string"
	TypeHTML    = "html"
	TypeInteger = "integer"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Field describes one key of an oracle reply.
type Field struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Enum        []string `yaml:"enum"`
	Minimum     *int     `yaml:"minimum"`
	Description string   `yaml:"description"`
	Items       string   `yaml:"items"`  // element type for arrays
	Fields      []Field  `yaml:"fields"` // nested fields for objects and object arrays
}

// Template is the prompt and schema definition for one content kind.
type Template struct {
	Kind                content.Kind `yaml:"-"`
	Label               string       `yaml:"label"`
	Container           string       `yaml:"container"`
	EntityKind          string       `yaml:"entity_kind"`
	EntityType          string       `yaml:"entity_type"`
	ImageStyle          string       `yaml:"image_style"`
	ImageFields         []string     `yaml:"image_fields"`
	RemoveBackground    bool         `yaml:"remove_background"`
	ChallengeRatingText string       `yaml:"challenge_rating_text"`
	Instructions        string       `yaml:"instructions"`
	Fields              []Field      `yaml:"fields"`

	table *Table
}

// Table is the versioned set of templates keyed by kind.
type Table struct {
	Version        int                        `yaml:"version"`
	JSONOnly       string                     `yaml:"json_only"`
	BalancingRules string                     `yaml:"balancing_rules"`
	RandomPrompt   string                     `yaml:"random_prompt"`
	Kinds          map[content.Kind]*Template `yaml:"kinds"`
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded template table, parsed once.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(templatesYAML)
	})
	return defaultTable, defaultErr
}

// MustDefault is Default for program start-up paths.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Parse loads a template table from YAML and validates it.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("loading template table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("loading template table: %w", err)
	}
	for k, tmpl := range t.Kinds {
		tmpl.Kind = k
		tmpl.table = &t
	}
	return &t, nil
}

func (t *Table) validate() error {
	if t.Version <= 0 {
		return fmt.Errorf("version is required")
	}
	for _, k := range content.AllKinds() {
		tmpl, ok := t.Kinds[k]
		if !ok || tmpl == nil {
			return fmt.Errorf("missing template for kind %q", k)
		}
		if strings.TrimSpace(tmpl.Container) == "" {
			return fmt.Errorf("kind %q: container is required", k)
		}
		if strings.TrimSpace(tmpl.EntityKind) == "" {
			return fmt.Errorf("kind %q: entity_kind is required", k)
		}
		if k.Rated() && strings.TrimSpace(tmpl.ChallengeRatingText) == "" {
			return fmt.Errorf("kind %q: challenge_rating_text is required", k)
		}
		if err := validateFields(string(k), tmpl.Fields); err != nil {
			return err
		}
	}
	for k := range t.Kinds {
		if !k.Valid() {
			return fmt.Errorf("unknown kind %q in template table", k)
		}
	}
	return nil
}

func validateFields(path string, fields []Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("%s: at least one field is required", path)
	}
	seen := make(map[string]struct{})
	for _, f := range fields {
		fp := path + "." + f.Name
		if f.Name == "" {
			return fmt.Errorf("%s: field name is required", path)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%s: duplicate field", fp)
		}
		seen[f.Name] = struct{}{}

		switch f.Type {
		case TypeString, TypeHTML:
		case TypeInteger:
		case TypeObject:
			if err := validateFields(fp, f.Fields); err != nil {
				return err
			}
		case TypeArray:
			switch f.Items {
			case TypeString:
			case TypeObject:
				if err := validateFields(fp, f.Fields); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%s: unsupported array item type %q", fp, f.Items)
			}
		default:
			return fmt.Errorf("%s: unsupported type %q", fp, f.Type)
		}
		if len(f.Enum) > 0 && f.Type != TypeString {
			return fmt.Errorf("%s: enum is only allowed on string fields", fp)
		}
	}
	return nil
}

// Template returns the template for kind.
func (t *Table) Template(kind content.Kind) (*Template, error) {
	tmpl, ok := t.Kinds[kind]
	if !ok {
		return nil, fmt.Errorf("no template for kind %q", kind)
	}
	return tmpl, nil
}

// ImagePrompt wraps a content description in the kind's styling text.
// It is deterministic for a given content object.
func (tmpl *Template) ImagePrompt(description string) string {
	description = strings.TrimSpace(description)
	if tmpl.ImageStyle == "" {
		return description
	}
	if description == "" {
		return tmpl.ImageStyle
	}
	return tmpl.ImageStyle + ", " + description
}
