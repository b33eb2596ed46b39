package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

// DefaultMemberConcurrency bounds how many encounter members are generated
// at once.
const DefaultMemberConcurrency = 4

// Pipeline generates content and assembles it into a document store.
type Pipeline struct {
	gen               *generator.Generator
	store             storage.Store
	index             *storage.ContainerIndex
	logger            *slog.Logger
	memberConcurrency int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMemberConcurrency sets how many encounter members are generated in
// parallel. Values below one mean one.
func WithMemberConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		p.memberConcurrency = n
	}
}

func NewPipeline(gen *generator.Generator, store storage.Store, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:               gen,
		store:             store,
		index:             storage.NewContainerIndex(store, logger),
		logger:            logger,
		memberConcurrency: DefaultMemberConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run generates content for req and assembles it. Oracle failures and
// container failures abort with a typed error before any entity exists.
// Sub-entity failures are collected on the returned entity instead.
func (p *Pipeline) Run(ctx context.Context, req content.GenerationRequest) (*ComposedEntity, error) {
	start := time.Now()
	s, err := p.gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	composed, err := p.assemble(ctx, req, s, nil)
	if err != nil {
		return nil, err
	}
	p.logger.Info("assembly finished",
		"kind", req.Kind,
		"name", composed.Name,
		"entity_id", composed.Primary.ID,
		"sub_entities", len(composed.SubEntities),
		"failures", len(composed.Failures()),
		"duration", time.Since(start))
	return composed, nil
}

// Assemble builds the composed entity for already generated content.
func (p *Pipeline) Assemble(ctx context.Context, req content.GenerationRequest, s *content.Structured) (*ComposedEntity, error) {
	return p.assemble(ctx, req, s, nil)
}

// plan is the set of containers one assembly needs, resolved before any
// entity is created.
type plan struct {
	home      []storage.Container // primary container chain, outermost first
	subchain  []storage.Container // container chain for stored sub-entities
	subNames  []string
	subKind   string
	tmpl      *schemas.Template
	needsSubs bool
}

// assemble places the primary entity in home when given, otherwise in the
// kind's top-level container.
func (p *Pipeline) assemble(ctx context.Context, req content.GenerationRequest, s *content.Structured, home []storage.Container) (*ComposedEntity, error) {
	tmpl, err := p.gen.Template(s.Kind)
	if err != nil {
		return nil, err
	}
	pl := plan{home: home, tmpl: tmpl}
	if err := p.planSubContainers(&pl, s); err != nil {
		return nil, err
	}

	// The image render and container resolution are independent; the
	// primary entity is created only once both have succeeded.
	var asset *content.GeneratedAsset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		asset, err = p.gen.RenderAsset(gctx, req, s)
		return err
	})
	g.Go(func() error {
		if pl.home == nil {
			chain, err := p.index.FindOrCreatePath(gctx, tmpl.EntityKind, tmpl.Container)
			if err != nil {
				return err
			}
			pl.home = chain
		}
		if pl.needsSubs {
			chain, err := p.index.FindOrCreatePath(gctx, pl.subKind, pl.subNames...)
			if err != nil {
				return err
			}
			pl.subchain = chain
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		p.logger.Error("assembly aborted before entity creation", "kind", s.Kind, "name", s.Name(), "error", err)
		return nil, err
	}

	fields, err := primaryFields(s)
	if err != nil {
		return nil, &errs.SchemaViolation{Kind: string(s.Kind), Problems: []string{err.Error()}, Err: err}
	}
	container := pl.home[len(pl.home)-1]
	ref, err := p.store.CreateEntity(ctx, tmpl.EntityKind, fields, container.ID)
	if err != nil {
		return nil, &errs.StoreError{Op: storage.OpCreateEntity, Err: err}
	}
	p.logger.Debug("primary entity created", "kind", s.Kind, "entity_id", ref.ID, "container", container.Name)

	composed := &ComposedEntity{
		Kind:        s.Kind,
		Name:        s.Name(),
		Primary:     ref,
		SubEntities: []SubEntity{},
		Containers:  append(append([]storage.Container{}, pl.home...), pl.subchain...),
		Content:     s,
	}

	if asset != nil {
		p.attachAsset(ctx, composed, tmpl, asset)
	}

	switch {
	case s.NPC != nil:
		p.attachNPCEntries(ctx, composed, s.NPC, pl.subchain)
	case s.Encounter != nil:
		p.attachMembers(ctx, composed, req, s.Encounter, pl.subchain)
	case s.Quest != nil:
		p.attachPages(ctx, composed, questPages(s.Quest))
	case s.Puzzle != nil:
		p.attachPages(ctx, composed, puzzlePages(s.Puzzle))
	}

	if composed.Incomplete() {
		p.logger.Warn("assembly incomplete", "kind", s.Kind, "entity_id", ref.ID, "error", composed.Err())
	}
	return composed, nil
}

// planSubContainers decides which nested container compound kinds need:
// NPC gear goes under the items container, encounter members under the
// NPC container, each in a child named for the owner.
func (p *Pipeline) planSubContainers(pl *plan, s *content.Structured) error {
	var parentKind content.Kind
	switch {
	case s.NPC != nil:
		if len(s.NPC.Weapons)+len(s.NPC.Equipment)+len(s.NPC.Abilities) == 0 {
			return nil
		}
		parentKind = content.KindItem
	case s.Encounter != nil:
		if len(s.Encounter.NPCs) == 0 {
			return nil
		}
		parentKind = content.KindNPC
	default:
		return nil
	}
	parent, err := p.gen.Template(parentKind)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(s.Name())
	if name == "" {
		name = "Unnamed " + pl.tmpl.Label
	}
	pl.needsSubs = true
	pl.subKind = parent.EntityKind
	pl.subNames = []string{parent.Container, name}
	return nil
}

func primaryFields(s *content.Structured) (storage.Fields, error) {
	switch {
	case s.NPC != nil:
		return npcFields(s.NPC)
	case s.Encounter != nil:
		return encounterFields(s.Encounter), nil
	case s.Quest != nil:
		return journalFields(s.Quest.Name, "quest", s.Quest.Description), nil
	case s.Puzzle != nil:
		return journalFields(s.Puzzle.Name, "puzzle", s.Puzzle.Description), nil
	case s.Item != nil:
		return itemFields(s.Item), nil
	case s.Scene != nil && s.Kind == content.KindTile:
		return tileFields(s.Scene), nil
	case s.Scene != nil:
		return sceneFields(s.Scene), nil
	}
	return nil, fmt.Errorf("no content for kind %q", s.Kind)
}

// attachAsset uploads the image once and points every image field of the
// primary entity at it.
func (p *Pipeline) attachAsset(ctx context.Context, composed *ComposedEntity, tmpl *schemas.Template, asset *content.GeneratedAsset) {
	path := assetPath(composed.Kind, composed.Name, uuid.NewString())
	stored, err := p.store.UploadFile(ctx, path, asset.Data, asset.MimeType)
	if err != nil {
		composed.fail(RoleAsset, path, &errs.StoreError{Op: storage.OpUploadFile, Err: err})
		return
	}
	update := storage.Fields{}
	for _, field := range tmpl.ImageFields {
		update[field] = stored
	}
	if err := p.store.UpdateEntity(ctx, composed.Primary, update); err != nil {
		composed.fail(RoleAsset, stored, &errs.StoreError{Op: storage.OpUpdateEntity, Err: err})
		return
	}
	composed.AssetPath = stored
}

func (c *ComposedEntity) fail(role, name string, err error) {
	c.Errors = append(c.Errors, errs.SubEntityFailure{Role: role, Name: name, Err: err})
}

// attachNPCEntries stores each weapon, equipment entry and ability as an
// item in the NPC's gear container and embeds a copy on the actor. One
// failed entry does not stop the others.
func (p *Pipeline) attachNPCEntries(ctx context.Context, composed *ComposedEntity, npc *content.NPCContent, chain []storage.Container) {
	if len(chain) == 0 {
		return
	}
	container := chain[len(chain)-1]
	groups := []struct {
		role    string
		entries []content.Entry
	}{
		{RoleWeapon, npc.Weapons},
		{RoleEquipment, npc.Equipment},
		{RoleAbility, npc.Abilities},
	}
	for _, group := range groups {
		for _, entry := range group.entries {
			fields := entryFields(group.role, entry)
			ref, err := p.store.CreateEntity(ctx, container.Kind, fields, container.ID)
			if err != nil {
				composed.fail(group.role, entry.Name, &errs.StoreError{Op: storage.OpCreateEntity, Err: err})
				continue
			}
			if err := p.store.AttachEmbedded(ctx, composed.Primary, container.Kind, fields); err != nil {
				composed.fail(group.role, entry.Name, &errs.StoreError{Op: storage.OpAttachEmbedded, Err: err})
				continue
			}
			composed.SubEntities = append(composed.SubEntities, SubEntity{Role: group.role, Name: entry.Name, Ref: &ref})
		}
	}
}

// attachMembers generates one NPC per distinct encounter member, however
// large its count, and embeds a reference to each on the summary.
func (p *Pipeline) attachMembers(ctx context.Context, composed *ComposedEntity, req content.GenerationRequest, enc *content.EncounterContent, chain []storage.Container) {
	members := enc.DistinctMembers()
	if len(members) == 0 || len(chain) == 0 {
		return
	}
	for _, c := range enc.MemberConflicts() {
		p.logger.Warn("duplicate encounter member differs, keeping first entry",
			"encounter", enc.Name,
			"member", c.Name,
			"field", c.Field,
			"kept", c.Kept,
			"dropped", c.Dropped)
	}

	children := make([]*ComposedEntity, len(members))
	failures := make([]error, len(members))

	var g errgroup.Group
	g.SetLimit(p.memberConcurrency)
	for i, m := range members {
		g.Go(func() error {
			children[i], failures[i] = p.runMember(ctx, req, m, chain)
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range members {
		if failures[i] != nil {
			composed.fail(RoleNPC, m.Name, failures[i])
			continue
		}
		child := children[i]
		composed.Children = append(composed.Children, child)
		composed.SubEntities = append(composed.SubEntities, SubEntity{Role: RoleNPC, Name: child.Name, Ref: &child.Primary})

		reference := storage.Fields{
			"name":     m.Name,
			"label":    m.Label(),
			"count":    m.Count,
			"actorId":  child.Primary.ID,
			"actorRef": "@UUID[Actor." + child.Primary.ID + "]{" + child.Name + "}",
		}
		if err := p.store.AttachEmbedded(ctx, composed.Primary, "ActorReference", reference); err != nil {
			composed.fail(RoleReference, m.Name, &errs.StoreError{Op: storage.OpAttachEmbedded, Err: err})
			continue
		}
		composed.SubEntities = append(composed.SubEntities, SubEntity{Role: RoleReference, Name: m.Label()})
	}
}

func (p *Pipeline) runMember(ctx context.Context, parent content.GenerationRequest, m content.EncounterMember, chain []storage.Container) (*ComposedEntity, error) {
	prompt := fmt.Sprintf("The NPC's name is %q.", m.Name)
	if m.Description != "" {
		prompt += " " + m.Description
	}
	childReq := content.GenerationRequest{
		Kind:         content.KindNPC,
		UserPrompt:   prompt,
		IncludeImage: parent.IncludeImage,
	}
	if m.ChallengeRating > 0 {
		cr := m.ChallengeRating
		childReq.ChallengeRating = &cr
	}

	s, err := p.gen.Generate(ctx, childReq)
	if err != nil {
		return nil, err
	}
	return p.assemble(ctx, childReq, s, chain)
}

// attachPages embeds journal pages on the primary entity in order.
func (p *Pipeline) attachPages(ctx context.Context, composed *ComposedEntity, pages []page) {
	for i, pg := range pages {
		if err := p.store.AttachEmbedded(ctx, composed.Primary, "JournalEntryPage", pg.fields(i)); err != nil {
			composed.fail(RolePage, pg.name, &errs.StoreError{Op: storage.OpAttachEmbedded, Err: err})
			continue
		}
		composed.SubEntities = append(composed.SubEntities, SubEntity{Role: RolePage, Name: pg.name})
	}
}
