package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/internal/services"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func npcJSON(name string, cr int, weapons, equipment []string) string {
	entries := func(names []string) string {
		parts := make([]string, 0, len(names))
		for _, n := range names {
			parts = append(parts, fmt.Sprintf(`{"name": %q, "description": "d", "effect": "e"}`, n))
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprintf(`{
		"name": %q,
		"imageGenerationPrompt": "a portrait of %s",
		"alignment": "neutral evil",
		"race": "human",
		"challengeRating": %d,
		"size": "medium",
		"attributes": {"strength": 12, "dexterity": 14, "constitution": 12, "intelligence": 10, "wisdom": 10, "charisma": 10},
		"armorClass": 12,
		"hitPoints": 11,
		"speed": 30,
		"weapons": %s,
		"equipment": %s
	}`, name, name, cr, entries(weapons), entries(equipment))
}

const encounterJSON = `{
	"name": "Roadside Ambush",
	"description": "Bandits block the road.",
	"objective": "Survive",
	"challengeRating": 3,
	"npcs": [
		{"name": "Bandit", "description": "a desperate thief", "challengeRating": 1, "count": 4},
		{"name": "Bandit Captain", "description": "their leader", "challengeRating": 2, "count": 1}
	]
}`

var memberName = regexp.MustCompile(`The NPC's name is "([^"]+)"`)

// scriptedOracle answers encounter prompts with encounterJSON and NPC
// prompts with an NPC named after the requested member.
func scriptedOracle(npcFail map[string]error) *services.MockTextOracle {
	return &services.MockTextOracle{
		GenerateFunc: func(ctx context.Context, system, user string) (json.RawMessage, error) {
			if strings.Contains(system, "combat encounter") {
				return json.RawMessage(encounterJSON), nil
			}
			name := "Captain Sable"
			if m := memberName.FindStringSubmatch(user); m != nil {
				name = m[1]
			}
			if err, ok := npcFail[name]; ok {
				return nil, err
			}
			return json.RawMessage(npcJSON(name, 1, []string{"Scimitar"}, nil)), nil
		},
	}
}

type fixture struct {
	store    *storage.MemoryStore
	text     *services.MockTextOracle
	image    *services.MockImageOracle
	pipeline *Pipeline
	logs     *bytes.Buffer
}

func newFixture(t *testing.T, text *services.MockTextOracle) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	f := &fixture{
		store: storage.NewMemoryStore(),
		text:  text,
		image: services.NewMockImageOracle(),
		logs:  logs,
	}
	gen := generator.New(text, f.image, schemas.MustDefault(), logger)
	f.pipeline = NewPipeline(gen, f.store, logger)
	return f
}

func (f *fixture) containersNamed(name string) []storage.Container {
	var out []storage.Container
	for _, c := range f.store.Containers() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *fixture) entityCount() int {
	n := 0
	for _, c := range f.store.Containers() {
		n += len(f.store.Entities(c.ID))
	}
	return n
}

func TestRun_NPC(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, []string{"Cutlass"}, []string{"Spyglass", "Coat"})))
	ctx := context.Background()

	composed, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindNPC, UserPrompt: "a pirate"})
	require.NoError(t, err)
	assert.False(t, composed.Incomplete())
	assert.Nil(t, composed.Err())
	assert.Equal(t, "Captain Sable", composed.Name)
	assert.Len(t, composed.SubEntitiesByRole(RoleWeapon), 1)
	assert.Len(t, composed.SubEntitiesByRole(RoleEquipment), 2)

	names := make([]string, 0, len(composed.Containers))
	for _, c := range composed.Containers {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"AI Generated NPCs", "AI Generated Items", "Captain Sable"}, names)

	actor, err := f.store.GetEntity(ctx, composed.Primary.ID)
	require.NoError(t, err)
	assert.Equal(t, "npc", actor.Fields.String("type"))
	assert.Equal(t, "Neutral Evil", actor.Fields.String("system.details.alignment"))
	assert.Equal(t, "med", actor.Fields.String("system.traits.size"))
	hp, _ := actor.Fields.Get("system.attributes.hp.max")
	assert.Equal(t, 11, hp)
	dexMod, _ := actor.Fields.Get("system.abilities.dex.mod")
	assert.Equal(t, 2, dexMod)
	assert.Len(t, actor.Embedded, 3)

	gear := f.containersNamed("Captain Sable")
	require.Len(t, gear, 1)
	assert.Len(t, f.store.Entities(gear[0].ID), 3)
}

func TestRun_ContainerReuse(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, nil, nil)))
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindNPC})
	require.NoError(t, err)
	second, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindNPC})
	require.NoError(t, err)

	assert.Len(t, f.containersNamed("AI Generated NPCs"), 1)
	assert.Equal(t, first.Containers[0].ID, second.Containers[0].ID)
	assert.NotEqual(t, first.Primary.ID, second.Primary.ID)
}

func TestRun_ConcurrentRunsShareContainers(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, []string{"Cutlass"}, nil)))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindNPC})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.containersNamed("AI Generated NPCs"), 1)
	assert.Len(t, f.containersNamed("AI Generated Items"), 1)
	assert.Len(t, f.containersNamed("Captain Sable"), 1)
}

func TestRun_EncounterGeneratesOneNPCPerMember(t *testing.T) {
	f := newFixture(t, scriptedOracle(nil))
	ctx := context.Background()

	composed, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindEncounter, UserPrompt: "an ambush"})
	require.NoError(t, err)
	assert.False(t, composed.Incomplete())

	// encounter + one NPC per distinct member, not one per count
	assert.Len(t, f.text.Calls(), 3)
	require.Len(t, composed.Children, 2)
	assert.Equal(t, "Bandit", composed.Children[0].Name)
	assert.Equal(t, "Bandit Captain", composed.Children[1].Name)

	nested := f.containersNamed("Roadside Ambush")
	require.Len(t, nested, 1)
	members := f.store.Entities(nested[0].ID)
	require.Len(t, members, 2)

	summary, err := f.store.GetEntity(ctx, composed.Primary.ID)
	require.NoError(t, err)
	assert.Contains(t, summary.Fields.String("content"), "Bandit x4")
	assert.Contains(t, summary.Fields.String("content"), "Bandit Captain x1")
	require.Len(t, summary.Embedded, 2)
	assert.Equal(t, "ActorReference", summary.Embedded[0].Kind)
	assert.Equal(t, composed.Children[0].Primary.ID, summary.Embedded[0].Fields.String("actorId"))
	assert.Equal(t, "Bandit x4", summary.Embedded[0].Fields.String("label"))

	// member gear goes to its own container
	assert.Len(t, f.containersNamed("Bandit"), 1)
}

func TestRun_EncounterMemberFailureIsPartial(t *testing.T) {
	boom := &errs.TransportError{Stage: errs.StageText, StatusCode: 503}
	f := newFixture(t, scriptedOracle(map[string]error{"Bandit Captain": boom}))

	composed, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindEncounter})
	require.NoError(t, err)
	assert.True(t, composed.Incomplete())
	require.Len(t, composed.Children, 1)
	require.Len(t, composed.Errors, 1)
	assert.Equal(t, RoleNPC, composed.Errors[0].Role)
	assert.Equal(t, "Bandit Captain", composed.Errors[0].Name)

	var partial *errs.PartialAssemblyFailure
	require.True(t, errors.As(composed.Err(), &partial))
	var te *errs.TransportError
	assert.True(t, errors.As(composed.Err(), &te))
}

func TestRun_NoImageWithoutIncludeImage(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, nil, nil)))
	ctx := context.Background()

	composed, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindNPC})
	require.NoError(t, err)
	assert.Empty(t, f.image.Calls())
	assert.Empty(t, composed.AssetPath)

	actor, err := f.store.GetEntity(ctx, composed.Primary.ID)
	require.NoError(t, err)
	assert.Equal(t, "", actor.Fields.String("img"))
	assert.Equal(t, "", actor.Fields.String("prototypeToken.texture.src"))
}

func TestRun_ImageAttached(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, []string{"Cutlass", "Pistol"}, nil)))
	ctx := context.Background()

	composed, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindNPC, IncludeImage: true})
	require.NoError(t, err)

	calls := f.image.Calls()
	require.Len(t, calls, 1, "one asset per primary entity regardless of sub-entities")
	assert.True(t, calls[0].RemoveBackground)
	assert.Contains(t, calls[0].Prompt, "a portrait of Captain Sable")

	assert.Regexp(t, `^ai-generated/npc/npc-captain-sable-[0-9a-f]{8}\.png$`, composed.AssetPath)
	_, ok := f.store.File(composed.AssetPath)
	assert.True(t, ok)

	actor, err := f.store.GetEntity(ctx, composed.Primary.ID)
	require.NoError(t, err)
	assert.Equal(t, composed.AssetPath, actor.Fields.String("img"))
	assert.Equal(t, composed.AssetPath, actor.Fields.String("prototypeToken.texture.src"))
}

func TestRun_SceneImageField(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(`{"name": "Crossroads", "description": "d", "imageGenerationPrompt": "a crossroads", "width": 30}`))
	ctx := context.Background()

	composed, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindBackground, IncludeImage: true})
	require.NoError(t, err)
	assert.False(t, f.image.Calls()[0].RemoveBackground)

	scene, err := f.store.GetEntity(ctx, composed.Primary.ID)
	require.NoError(t, err)
	assert.Equal(t, composed.AssetPath, scene.Fields.String("background.src"))
	width, _ := scene.Fields.Get("width")
	assert.Equal(t, 3000, width)
	assert.Equal(t, "Scene", composed.Primary.Kind)
}

func TestRun_NotJSONCreatesNothing(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle("not json"))

	composed, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindNPC, IncludeImage: true})
	assert.Nil(t, composed)
	var sv *errs.SchemaViolation
	require.True(t, errors.As(err, &sv))
	assert.Empty(t, f.store.Containers())
	assert.Empty(t, f.image.Calls())
}

func TestRun_RemovalFailureCreatesNothing(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, []string{"Cutlass"}, nil)))
	f.image.RenderFunc = func(ctx context.Context, prompt string, removeBackground bool) (*content.GeneratedAsset, error) {
		return nil, &errs.TransportError{Stage: errs.StageRemoveBackground, StatusCode: 500}
	}

	composed, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindNPC, IncludeImage: true})
	assert.Nil(t, composed)
	var te *errs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, errs.StageRemoveBackground, te.Stage)
	assert.Equal(t, 0, f.entityCount())
}

func TestRun_OneWeaponFailsTwoEquipmentSucceed(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, []string{"Longsword"}, []string{"Rope", "Lantern"})))
	f.store.FailFunc = func(op, kind string, fields storage.Fields) error {
		if op == storage.OpCreateEntity && fields.String("name") == "Longsword" {
			return errors.New("disk full")
		}
		return nil
	}

	composed, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindNPC})
	require.NoError(t, err)
	assert.NotEmpty(t, composed.Primary.ID)
	assert.Len(t, composed.SubEntitiesByRole(RoleEquipment), 2)
	assert.Empty(t, composed.SubEntitiesByRole(RoleWeapon))
	require.Len(t, composed.Errors, 1)
	assert.Equal(t, RoleWeapon, composed.Errors[0].Role)
	assert.Equal(t, "Longsword", composed.Errors[0].Name)

	var se *errs.StoreError
	require.True(t, errors.As(composed.Err(), &se))
	assert.Equal(t, storage.OpCreateEntity, se.Op)
}

func TestRun_UploadFailureKeepsEntity(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(`{"name": "Oak", "description": "d", "imageGenerationPrompt": "an oak"}`))
	f.store.FailFunc = func(op, kind string, fields storage.Fields) error {
		if op == storage.OpUploadFile {
			return errors.New("quota")
		}
		return nil
	}

	composed, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindTile, IncludeImage: true})
	require.NoError(t, err)
	assert.Empty(t, composed.AssetPath)
	require.Len(t, composed.Errors, 1)
	assert.Equal(t, RoleAsset, composed.Errors[0].Role)
}

func TestRun_ContainerFailureIsFatal(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(npcJSON("Captain Sable", 5, nil, nil)))
	f.store.FailFunc = func(op, kind string, fields storage.Fields) error {
		if op == storage.OpCreateContainer {
			return errors.New("read-only")
		}
		return nil
	}

	_, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindNPC})
	var se *errs.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, storage.OpCreateContainer, se.Op)
	assert.Equal(t, 0, f.entityCount())
}

func TestRun_QuestAndPuzzlePages(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, services.NewMockTextOracle(`{"name": "Lost Bell", "description": "<p>Find it.</p>", "objectives": ["Find the bell", "Return it"], "rewards": ["50 gp"]}`))
	quest, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindQuest})
	require.NoError(t, err)
	pages := quest.SubEntitiesByRole(RolePage)
	require.Len(t, pages, 3)
	assert.Equal(t, "Objectives", pages[1].Name)

	doc, err := f.store.GetEntity(ctx, quest.Primary.ID)
	require.NoError(t, err)
	assert.Equal(t, "quest", doc.Fields.String("flags.forge.type"))
	assert.Contains(t, doc.Embedded[1].Fields.String("text.content"), "<li>Return it</li>")

	f = newFixture(t, services.NewMockTextOracle(`{"name": "Riddle Door", "description": "<p>Speak.</p>", "solution": "friend", "hints": ["elvish"]}`))
	puzzle, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindPuzzle})
	require.NoError(t, err)
	var names []string
	for _, p := range puzzle.SubEntitiesByRole(RolePage) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Overview", "Hints", "Solution"}, names)
}

func TestRun_Item(t *testing.T) {
	f := newFixture(t, services.NewMockTextOracle(`{"name": "Ember Dagger", "description": "warm", "imageGenerationPrompt": "a dagger", "type": "weapon", "rarity": "very rare", "price": 500}`))
	ctx := context.Background()

	composed, err := f.pipeline.Run(ctx, content.GenerationRequest{Kind: content.KindItem})
	require.NoError(t, err)
	assert.Equal(t, "AI Generated Items", composed.Containers[0].Name)

	item, err := f.store.GetEntity(ctx, composed.Primary.ID)
	require.NoError(t, err)
	assert.Equal(t, "weapon", item.Fields.String("type"))
	assert.Equal(t, "Very Rare Weapon", item.Fields.String("flags.forge.label"))
	price, _ := item.Fields.Get("system.price.value")
	assert.Equal(t, 500, price)
}

func TestComposedEntity_JSON(t *testing.T) {
	c := &ComposedEntity{
		Kind:   content.KindNPC,
		Name:   "Ash",
		Errors: []errs.SubEntityFailure{{Role: RoleWeapon, Name: "Dagger", Err: errors.New("rejected")}},
	}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"incomplete":true`)
	assert.Contains(t, string(b), `"errors":[{"role":"weapon","name":"Dagger","error":"rejected"}]`)
}

func TestSlugAndAssetPath(t *testing.T) {
	assert.Equal(t, "captain-sable", slug("  Captain Sable! "))
	assert.Equal(t, "untitled", slug("???"))
	assert.Equal(t, "ai-generated/tile/tile-old-oak-1234abcd.png", assetPath(content.KindTile, "Old Oak", "1234abcd-ffff"))
}

func TestPipeline_EncounterDuplicateMembersWarn(t *testing.T) {
	reply := `{
		"name": "Toll Bridge",
		"description": "Bandits hold the bridge.",
		"objective": "Cross",
		"challengeRating": 3,
		"npcs": [
			{"name": "Bandit", "description": "a thief", "challengeRating": 1, "count": 3},
			{"name": "Bandit", "description": "a thief", "challengeRating": 2, "count": 2}
		]
	}`
	text := &services.MockTextOracle{
		GenerateFunc: func(ctx context.Context, system, user string) (json.RawMessage, error) {
			if strings.Contains(system, "combat encounter") {
				return json.RawMessage(reply), nil
			}
			return json.RawMessage(npcJSON("Bandit", 1, nil, nil)), nil
		},
	}
	f := newFixture(t, text)

	composed, err := f.pipeline.Run(context.Background(), content.GenerationRequest{Kind: content.KindEncounter})
	require.NoError(t, err)
	require.Len(t, composed.Children, 1)
	assert.Len(t, text.Calls(), 2)

	logs := f.logs.String()
	assert.Contains(t, logs, "duplicate encounter member differs")
	assert.Contains(t, logs, "field=challengeRating kept=1 dropped=2")
}
