package assembly

import (
	"encoding/json"

	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

// Sub-entity roles
const (
	RoleWeapon    = "weapon"
	RoleEquipment = "equipment"
	RoleAbility   = "ability"
	RoleNPC       = "npc"
	RoleReference = "reference"
	RolePage      = "page"
	RoleAsset     = "asset"
)

// SubEntity is a document created as part of a composed entity.
// Stored sub-entities have a Ref; purely embedded ones (journal pages,
// member references) do not.
type SubEntity struct {
	Role string             `json:"role"`
	Name string             `json:"name"`
	Ref  *storage.EntityRef `json:"ref,omitempty"`
}

// ComposedEntity is the result of one assembly run.
type ComposedEntity struct {
	Kind        content.Kind            `json:"kind"`
	Name        string                  `json:"name"`
	Primary     storage.EntityRef       `json:"primary"`
	SubEntities []SubEntity             `json:"sub_entities"`
	Containers  []storage.Container     `json:"containers"`
	AssetPath   string                  `json:"asset_path,omitempty"`
	Children    []*ComposedEntity       `json:"children,omitempty"`
	Content     *content.Structured     `json:"content,omitempty"`
	Errors      []errs.SubEntityFailure `json:"-"`
}

// Incomplete reports whether any sub-entity of this entity or of its
// children failed.
func (c *ComposedEntity) Incomplete() bool {
	if len(c.Errors) > 0 {
		return true
	}
	for _, child := range c.Children {
		if child.Incomplete() {
			return true
		}
	}
	return false
}

// Failures returns every sub-entity failure, children included.
func (c *ComposedEntity) Failures() []errs.SubEntityFailure {
	out := append([]errs.SubEntityFailure(nil), c.Errors...)
	for _, child := range c.Children {
		out = append(out, child.Failures()...)
	}
	return out
}

// Err returns a *errs.PartialAssemblyFailure when the entity is
// incomplete, nil otherwise.
func (c *ComposedEntity) Err() error {
	failures := c.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &errs.PartialAssemblyFailure{Failures: failures}
}

// SubEntitiesByRole filters SubEntities.
func (c *ComposedEntity) SubEntitiesByRole(role string) []SubEntity {
	var out []SubEntity
	for _, s := range c.SubEntities {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

type failureJSON struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

func (c *ComposedEntity) MarshalJSON() ([]byte, error) {
	type alias ComposedEntity
	failures := make([]failureJSON, 0, len(c.Errors))
	for _, f := range c.Errors {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		failures = append(failures, failureJSON{Role: f.Role, Name: f.Name, Error: msg})
	}
	return json.Marshal(struct {
		*alias
		Incomplete bool          `json:"incomplete"`
		Errors     []failureJSON `json:"errors"`
	}{
		alias:      (*alias)(c),
		Incomplete: c.Incomplete(),
		Errors:     failures,
	})
}
