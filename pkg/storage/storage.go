package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// Container is a named folder in the document store. Containers are unique
// by (Name, Kind, ParentID); ParentID is empty at the top level.
type Container struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	ParentID string `json:"parent_id,omitempty"`
}

// EntityRef points at a stored entity.
type EntityRef struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ContainerID string `json:"container_id,omitempty"`
}

// Embedded is a document attached inside another entity, like an item on
// an actor or a page in a journal entry.
type Embedded struct {
	Kind   string `json:"kind"`
	Fields Fields `json:"fields"`
}

// Entity is a stored document.
type Entity struct {
	EntityRef
	Fields    Fields     `json:"fields"`
	Embedded  []Embedded `json:"embedded,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store is the document store the assembly pipeline writes into.
type Store interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// FindContainer returns nil, nil when no container matches.
	FindContainer(ctx context.Context, name, kind, parentID string) (*Container, error)
	// CreateContainer is create-if-absent: when a container with the same
	// (name, kind, parentID) already exists, that container is returned and
	// no new one is made.
	CreateContainer(ctx context.Context, name, kind, parentID string) (*Container, error)

	CreateEntity(ctx context.Context, kind string, fields Fields, containerID string) (EntityRef, error)
	AttachEmbedded(ctx context.Context, parent EntityRef, kind string, fields Fields) error
	// UpdateEntity merges fields into the entity. Keys may be dotted paths.
	UpdateEntity(ctx context.Context, ref EntityRef, fields Fields) error
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// UploadFile stores bytes under path and returns the stored path.
	UploadFile(ctx context.Context, path string, data []byte, mimeType string) (string, error)
}

// Fields is a JSON-like document body.
type Fields map[string]any

// Set assigns v at a dotted path, creating intermediate objects.
func (f Fields) Set(path string, v any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(f)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			if nf, isFields := cur[p].(Fields); isFields {
				next = nf
			} else {
				next = map[string]any{}
				cur[p] = next
			}
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// Get reads the value at a dotted path.
func (f Fields) Get(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(f)
	for _, p := range parts {
		var m map[string]any
		switch t := cur.(type) {
		case map[string]any:
			m = t
		case Fields:
			m = t
		default:
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// String is Get for string values.
func (f Fields) String(path string) string {
	v, _ := f.Get(path)
	s, _ := v.(string)
	return s
}

// Merge applies every key of update to f with Set.
func (f Fields) Merge(update Fields) {
	for k, v := range update {
		f.Set(k, v)
	}
}

// Clone returns a deep copy of maps and slices in f.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	return Fields(cloneValue(map[string]any(f)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Fields:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Store operation names, used in errs.StoreError.
const (
	OpFindContainer   = "find_container"
	OpCreateContainer = "create_container"
	OpCreateEntity    = "create_entity"
	OpAttachEmbedded  = "attach_embedded"
	OpUpdateEntity    = "update_entity"
	OpGetEntity       = "get_entity"
	OpUploadFile      = "upload_file"
)
