package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

const (
	keyPrefix       = "forge:"
	maxWatchRetries = 5
)

// RedisStore implements storage.Store with Redis for containers and
// entities and the filesystem under dataDir for uploaded files.
type RedisStore struct {
	client  *redis.Client
	logger  *slog.Logger
	dataDir string
}

// Ensure RedisStore implements Store interface
var _ storage.Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis store instance. redisURL may be a
// redis:// URL or a bare host:port.
func NewRedisStore(redisURL string, dataDir string, logger *slog.Logger) (*RedisStore, error) {
	opt := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		var err error
		if opt, err = redis.ParseURL(redisURL); err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
	}
	return NewRedisStoreWithClient(redis.NewClient(opt), dataDir, logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, dataDir string, logger *slog.Logger) *RedisStore {
	if dataDir == "" {
		dataDir = "./data"
	}
	return &RedisStore{
		client:  client,
		logger:  logger,
		dataDir: dataDir,
	}
}

// Health and lifecycle methods

func (r *RedisStore) Ping(ctx context.Context) error {
	cmd := r.client.Ping(ctx)
	if err := cmd.Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStore) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Client exposes the underlying client so the job queue can share it.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func containerIndexKey(name, kind, parentID string) string {
	return keyPrefix + "container-index:" + kind + ":" + parentID + ":" + name
}

func containerKey(id string) string { return keyPrefix + "container:" + id }
func entityKey(id string) string    { return keyPrefix + "entity:" + id }
func embeddedKey(id string) string  { return keyPrefix + "entity:" + id + ":embedded" }

// Container methods

func (r *RedisStore) FindContainer(ctx context.Context, name, kind, parentID string) (*storage.Container, error) {
	id, err := r.client.Get(ctx, containerIndexKey(name, kind, parentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up container: %w", err)
	}
	return r.loadContainer(ctx, id)
}

func (r *RedisStore) loadContainer(ctx context.Context, id string) (*storage.Container, error) {
	data, err := r.client.Get(ctx, containerKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("container %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get container: %w", err)
	}
	var c storage.Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal container: %w", err)
	}
	return &c, nil
}

// CreateContainer writes the container record, then claims the index key
// with SETNX. A lost claim discards the record and returns the winner.
func (r *RedisStore) CreateContainer(ctx context.Context, name, kind, parentID string) (*storage.Container, error) {
	if parentID != "" {
		if _, err := r.loadContainer(ctx, parentID); err != nil {
			return nil, fmt.Errorf("parent container: %w", err)
		}
	}

	c := storage.Container{ID: uuid.NewString(), Name: name, Kind: kind, ParentID: parentID}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container: %w", err)
	}
	if err := r.client.Set(ctx, containerKey(c.ID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to save container: %w", err)
	}

	claimed, err := r.client.SetNX(ctx, containerIndexKey(name, kind, parentID), c.ID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim container name: %w", err)
	}
	if claimed {
		r.logger.Debug("Container created in Redis", "container", name, "container_id", c.ID)
		return &c, nil
	}

	if err := r.client.Del(ctx, containerKey(c.ID)).Err(); err != nil {
		r.logger.Warn("Failed to discard losing container record", "container_id", c.ID, "error", err)
	}
	winner, err := r.FindContainer(ctx, name, kind, parentID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("container %q vanished after losing create race", name)
	}
	return winner, nil
}

// Entity methods

func (r *RedisStore) CreateEntity(ctx context.Context, kind string, fields storage.Fields, containerID string) (storage.EntityRef, error) {
	if containerID != "" {
		if _, err := r.loadContainer(ctx, containerID); err != nil {
			return storage.EntityRef{}, err
		}
	}
	now := time.Now().UTC()
	e := storage.Entity{
		EntityRef: storage.EntityRef{ID: uuid.NewString(), Kind: kind, ContainerID: containerID},
		Fields:    fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return storage.EntityRef{}, fmt.Errorf("failed to marshal entity: %w", err)
	}
	if err := r.client.SetNX(ctx, entityKey(e.ID), data, 0).Err(); err != nil {
		return storage.EntityRef{}, fmt.Errorf("failed to save entity: %w", err)
	}
	r.logger.Debug("Entity saved to Redis", "entity_id", e.ID, "kind", kind)
	return e.EntityRef, nil
}

func (r *RedisStore) AttachEmbedded(ctx context.Context, parent storage.EntityRef, kind string, fields storage.Fields) error {
	exists, err := r.client.Exists(ctx, entityKey(parent.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check entity: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("entity %s: %w", parent.ID, storage.ErrNotFound)
	}
	data, err := json.Marshal(storage.Embedded{Kind: kind, Fields: fields})
	if err != nil {
		return fmt.Errorf("failed to marshal embedded document: %w", err)
	}
	if err := r.client.RPush(ctx, embeddedKey(parent.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to attach embedded document: %w", err)
	}
	return nil
}

// UpdateEntity merges fields under WATCH so concurrent updates do not
// overwrite each other.
func (r *RedisStore) UpdateEntity(ctx context.Context, ref storage.EntityRef, fields storage.Fields) error {
	key := entityKey(ref.ID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("entity %s: %w", ref.ID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var e storage.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		if e.Fields == nil {
			e.Fields = storage.Fields{}
		}
		e.Fields.Merge(fields.Clone())
		e.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entity: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update entity: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to update entity %s: too much contention", ref.ID)
}

func (r *RedisStore) GetEntity(ctx context.Context, id string) (*storage.Entity, error) {
	data, err := r.client.Get(ctx, entityKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("entity %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	var e storage.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}

	items, err := r.client.LRange(ctx, embeddedKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get embedded documents: %w", err)
	}
	for _, item := range items {
		var emb storage.Embedded
		if err := json.Unmarshal([]byte(item), &emb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedded document: %w", err)
		}
		e.Embedded = append(e.Embedded, emb)
	}
	return &e, nil
}

// File methods

func (r *RedisStore) UploadFile(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	return writeDataFile(r.dataDir, path, data)
}

// writeDataFile writes data under dataDir, refusing paths that escape it.
func writeDataFile(dataDir, path string, data []byte) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid file path %q", path)
	}
	full := filepath.Join(dataDir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return filepath.ToSlash(clean), nil
}
