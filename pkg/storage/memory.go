package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and the CLI's
// default mode. FailFunc, when set, is consulted before every write and
// can inject a failure for a given operation.
type MemoryStore struct {
	FailFunc func(op, kind string, fields Fields) error

	mu         sync.RWMutex
	containers map[string]*Container // by ID
	entities   map[string]*Entity
	files      map[string][]byte
	pingError  error
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		containers: make(map[string]*Container),
		entities:   make(map[string]*Entity),
		files:      make(map[string][]byte),
	}
}

// SetPingError configures Ping to fail with err. nil restores success.
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) fail(op, kind string, fields Fields) error {
	if m.FailFunc == nil {
		return nil
	}
	return m.FailFunc(op, kind, fields)
}

func (m *MemoryStore) FindContainer(ctx context.Context, name, kind, parentID string) (*Container, error) {
	if err := m.fail(OpFindContainer, kind, nil); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.findLocked(name, kind, parentID); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) findLocked(name, kind, parentID string) *Container {
	for _, c := range m.containers {
		if c.Name == name && c.Kind == kind && c.ParentID == parentID {
			return c
		}
	}
	return nil
}

func (m *MemoryStore) CreateContainer(ctx context.Context, name, kind, parentID string) (*Container, error) {
	if err := m.fail(OpCreateContainer, kind, nil); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if parentID != "" {
		if _, ok := m.containers[parentID]; !ok {
			return nil, fmt.Errorf("parent container %s: %w", parentID, ErrNotFound)
		}
	}
	if c := m.findLocked(name, kind, parentID); c != nil {
		cp := *c
		return &cp, nil
	}
	c := &Container{ID: uuid.NewString(), Name: name, Kind: kind, ParentID: parentID}
	m.containers[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateEntity(ctx context.Context, kind string, fields Fields, containerID string) (EntityRef, error) {
	if err := m.fail(OpCreateEntity, kind, fields); err != nil {
		return EntityRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if containerID != "" {
		if _, ok := m.containers[containerID]; !ok {
			return EntityRef{}, fmt.Errorf("container %s: %w", containerID, ErrNotFound)
		}
	}
	now := time.Now().UTC()
	e := &Entity{
		EntityRef: EntityRef{ID: uuid.NewString(), Kind: kind, ContainerID: containerID},
		Fields:    fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.entities[e.ID] = e
	return e.EntityRef, nil
}

func (m *MemoryStore) AttachEmbedded(ctx context.Context, parent EntityRef, kind string, fields Fields) error {
	if err := m.fail(OpAttachEmbedded, kind, fields); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[parent.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", parent.ID, ErrNotFound)
	}
	e.Embedded = append(e.Embedded, Embedded{Kind: kind, Fields: fields.Clone()})
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateEntity(ctx context.Context, ref EntityRef, fields Fields) error {
	if err := m.fail(OpUpdateEntity, ref.Kind, fields); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[ref.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", ref.ID, ErrNotFound)
	}
	e.Fields.Merge(fields.Clone())
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	cp := *e
	cp.Fields = e.Fields.Clone()
	cp.Embedded = make([]Embedded, len(e.Embedded))
	for i, emb := range e.Embedded {
		cp.Embedded[i] = Embedded{Kind: emb.Kind, Fields: emb.Fields.Clone()}
	}
	return &cp, nil
}

func (m *MemoryStore) UploadFile(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	if err := m.fail(OpUploadFile, mimeType, nil); err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.New("path is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	return path, nil
}

// Containers lists every container, sorted by name then ID.
func (m *MemoryStore) Containers() []Container {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Container, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Entities lists every entity in the given container.
func (m *MemoryStore) Entities(containerID string) []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entity
	for _, e := range m.entities {
		if e.ContainerID == containerID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// File returns the bytes stored at path.
func (m *MemoryStore) File(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[path]
	return b, ok
}
