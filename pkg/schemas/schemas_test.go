package schemas

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/vtt-forge/pkg/content"
)

func template(t *testing.T, kind content.Kind) *Template {
	t.Helper()
	table, err := Default()
	require.NoError(t, err)
	tmpl, err := table.Template(kind)
	require.NoError(t, err)
	return tmpl
}

func TestDefault_HasEveryKind(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 3, table.Version)

	for _, k := range content.AllKinds() {
		tmpl, err := table.Template(k)
		require.NoError(t, err, k)
		assert.Equal(t, k, tmpl.Kind)
		assert.NotEmpty(t, tmpl.Container, k)
		assert.NotEmpty(t, tmpl.ImageFields, k)
	}

	npc := template(t, content.KindNPC)
	assert.Equal(t, "AI Generated NPCs", npc.Container)
	assert.Equal(t, "Actor", npc.EntityKind)
	assert.True(t, npc.RemoveBackground)
	assert.False(t, template(t, content.KindBackground).RemoveBackground)

	// every rated kind turns a requested rating into a hard constraint
	for _, k := range content.AllKinds() {
		if k.Rated() {
			assert.Contains(t, template(t, k).ChallengeRatingText, "MUST", k)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no version", "kinds: {}", "version is required"},
		{"missing kinds", "version: 1\nkinds: {}", "missing template for kind"},
		{"bad yaml", "version: [", "loading template table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateFields_Rejects(t *testing.T) {
	err := validateFields("npc", []Field{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString}})
	assert.ErrorContains(t, err, "duplicate field")

	err = validateFields("npc", []Field{{Name: "a", Type: "float"}})
	assert.ErrorContains(t, err, "unsupported type")

	err = validateFields("npc", []Field{{Name: "a", Type: TypeInteger, Enum: []string{"x"}}})
	assert.ErrorContains(t, err, "enum is only allowed")

	err = validateFields("npc", []Field{{Name: "a", Type: TypeArray, Items: TypeInteger}})
	assert.ErrorContains(t, err, "unsupported array item type")
}

const validNPC = `{
	"name": "Captain Sable",
	"imageGenerationPrompt": "a scarred human pirate captain in a long coat",
	"challengeRating": 5,
	"size": "Medium",
	"attributes": {"strength": 16, "dexterity": 14, "constitution": 14, "intelligence": 11, "wisdom": 12, "charisma": 15},
	"armorClass": "15",
	"hitPoints": 110.0,
	"speed": 30,
	"weapons": {"name": "Cutlass", "effect": "1d6 slashing damage"},
	"bogus": "dropped"
}`

func TestValidate_RepairsReply(t *testing.T) {
	out, problems := template(t, content.KindNPC).Validate([]byte(validNPC))
	require.Empty(t, problems)

	assert.Equal(t, "medium", out["size"])
	assert.Equal(t, 15, out["armorClass"])
	assert.Equal(t, 110, out["hitPoints"])
	assert.Equal(t, "", out["biography"])
	assert.Equal(t, []any{}, out["equipment"])
	assert.NotContains(t, out, "bogus")

	weapons, ok := out["weapons"].([]any)
	require.True(t, ok)
	require.Len(t, weapons, 1)
	assert.Equal(t, "Cutlass", weapons[0].(map[string]any)["name"])
	assert.Equal(t, "", weapons[0].(map[string]any)["description"])
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	reply := `{
		"imageGenerationPrompt": "x",
		"challengeRating": 0,
		"size": "colossal",
		"attributes": {"strength": 10},
		"armorClass": 12,
		"hitPoints": "lots",
		"speed": 30
	}`
	_, problems := template(t, content.KindNPC).Validate([]byte(reply))

	joined := strings.Join(problems, "\n")
	assert.Contains(t, joined, "name: required field missing")
	assert.Contains(t, joined, "challengeRating: must be at least 1, got 0")
	assert.Contains(t, joined, `size: "colossal" is not one of`)
	assert.Contains(t, joined, "attributes.dexterity: required field missing")
	assert.Contains(t, joined, `hitPoints: expected integer, got "lots"`)
}

func TestValidate_NestedArrayPaths(t *testing.T) {
	reply := `{"name": "Ambush", "description": "d", "challengeRating": 3,
		"npcs": [{"name": "Bandit", "challengeRating": 1, "count": 4}, {"name": "Bandit Captain", "challengeRating": 2}]}`
	_, problems := template(t, content.KindEncounter).Validate([]byte(reply))
	assert.Equal(t, []string{"npcs[1].count: required field missing"}, problems)
}

func TestValidate_NotJSON(t *testing.T) {
	tmpl := template(t, content.KindItem)

	_, problems := tmpl.Validate([]byte("Sure! Here is your item."))
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "not valid JSON")

	_, problems = tmpl.Validate([]byte(`["a"]`))
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "must be a JSON object, got array")
}

func TestBuilder_ChallengeRating(t *testing.T) {
	tmpl := template(t, content.KindNPC)
	cr := 7

	system, user, err := NewBuilder(tmpl).WithUserPrompt("a pirate captain").WithChallengeRating(&cr).Build()
	require.NoError(t, err)
	assert.Equal(t, "a pirate captain", user)
	assert.Contains(t, system, "challengeRating MUST be exactly 7")
	assert.Contains(t, system, "Balancing rules:")
	assert.Contains(t, system, "one of: tiny, small, medium, large, huge, gargantuan")
	assert.Contains(t, system, `"attributes": {`)
	assert.True(t, strings.HasSuffix(system, "before or after it."))

	system, _, err = NewBuilder(tmpl).WithUserPrompt("a pirate captain").Build()
	require.NoError(t, err)
	assert.NotContains(t, system, "MUST be exactly")
}

func TestBuilder_RejectsNonPositiveRating(t *testing.T) {
	cr := 0
	_, _, err := NewBuilder(template(t, content.KindNPC)).WithChallengeRating(&cr).Build()
	assert.Error(t, err)
}

func TestBuilder_RandomPrompt(t *testing.T) {
	system, user, err := NewBuilder(template(t, content.KindTile)).WithUserPrompt("  ").Build()
	require.NoError(t, err)
	assert.Equal(t, "Create a completely random Tile.", user)
	assert.NotContains(t, system, "Balancing rules:")
}

func TestFormatBlock(t *testing.T) {
	block := FormatBlock([]Field{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "hints", Type: TypeArray, Items: TypeString},
	})
	assert.Contains(t, block, `"name": "NAME",    // String (required)`)
	assert.Contains(t, block, `"hints": [    // Array of strings`)
	assert.True(t, strings.HasPrefix(block, "{\n"))
	assert.True(t, strings.HasSuffix(block, "}"))
}

func TestImagePrompt(t *testing.T) {
	tmpl := template(t, content.KindItem)
	assert.Equal(t, tmpl.ImageStyle+", a glowing dagger", tmpl.ImagePrompt(" a glowing dagger "))
	assert.Equal(t, tmpl.ImagePrompt("x"), tmpl.ImagePrompt("x"))
	assert.Equal(t, tmpl.ImageStyle, tmpl.ImagePrompt(""))
}
