package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/vtt-forge/internal/config"
	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

// Open returns the store selected by cfg.StoreBackend. A Redis store is
// returned only once the server answers.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		logger.Warn("Using in-memory store; documents are lost on exit")
		return storage.NewMemoryStore(), nil
	case config.BackendRedis:
		store, err := NewRedisStore(cfg.RedisURL, cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		if err := store.WaitForConnection(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
}
