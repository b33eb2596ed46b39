package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/vtt-forge/pkg/storage"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS containers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	created_at TEXT DEFAULT (datetime('now')),
	CONSTRAINT uq_container UNIQUE (name, kind, parent_id)
);

CREATE TABLE IF NOT EXISTS entities (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	container_id TEXT NOT NULL DEFAULT '',
	fields       TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embedded (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	kind      TEXT NOT NULL,
	fields    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	mime_type  TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_container ON entities (container_id);
CREATE INDEX IF NOT EXISTS idx_embedded_entity ON embedded (entity_id);
`

// SQLiteStore implements storage.Store on a single SQLite file. Uploaded
// files are kept in the files table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// one writer at a time; pragmas below are per connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindContainer(ctx context.Context, name, kind, parentID string) (*storage.Container, error) {
	var c storage.Container
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, parent_id FROM containers WHERE name = ? AND kind = ? AND parent_id = ?`,
		name, kind, parentID,
	).Scan(&c.ID, &c.Name, &c.Kind, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying container: %w", err)
	}
	return &c, nil
}

// CreateContainer inserts the container or, on a unique-key conflict,
// returns the row that is already there.
func (s *SQLiteStore) CreateContainer(ctx context.Context, name, kind, parentID string) (*storage.Container, error) {
	if parentID != "" {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM containers WHERE id = ?`, parentID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("parent container %s: %w", parentID, storage.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("querying parent container: %w", err)
		}
	}

	c := storage.Container{Name: name, Kind: kind, ParentID: parentID}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO containers (id, name, kind, parent_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name, kind, parent_id) DO UPDATE SET name = containers.name
		RETURNING id`,
		uuid.NewString(), name, kind, parentID,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting container: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, kind string, fields storage.Fields, containerID string) (storage.EntityRef, error) {
	if containerID != "" {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM containers WHERE id = ?`, containerID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EntityRef{}, fmt.Errorf("container %s: %w", containerID, storage.ErrNotFound)
		}
		if err != nil {
			return storage.EntityRef{}, fmt.Errorf("querying container: %w", err)
		}
	}

	data, err := json.Marshal(fields.Clone())
	if err != nil {
		return storage.EntityRef{}, fmt.Errorf("marshaling fields: %w", err)
	}
	ref := storage.EntityRef{ID: uuid.NewString(), Kind: kind, ContainerID: containerID}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, container_id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ref.ID, kind, containerID, string(data), now, now,
	)
	if err != nil {
		return storage.EntityRef{}, fmt.Errorf("inserting entity: %w", err)
	}
	return ref, nil
}

func (s *SQLiteStore) AttachEmbedded(ctx context.Context, parent storage.EntityRef, kind string, fields storage.Fields) error {
	data, err := json.Marshal(fields.Clone())
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO embedded (entity_id, kind, fields)
		SELECT id, ?, ? FROM entities WHERE id = ?`,
		kind, string(data), parent.ID,
	)
	if err != nil {
		return fmt.Errorf("inserting embedded document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s: %w", parent.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) UpdateEntity(ctx context.Context, ref storage.EntityRef, fields storage.Fields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM entities WHERE id = ?`, ref.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entity %s: %w", ref.ID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying entity: %w", err)
	}

	current := storage.Fields{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("unmarshaling fields: %w", err)
	}
	current.Merge(fields.Clone())
	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET fields = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC().Format(time.RFC3339Nano), ref.ID,
	); err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*storage.Entity, error) {
	var e storage.Entity
	var raw, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, container_id, fields, created_at, updated_at FROM entities WHERE id = ?`, id,
	).Scan(&e.ID, &e.Kind, &e.ContainerID, &raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &e.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields: %w", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)

	rows, err := s.db.QueryContext(ctx, `SELECT kind, fields FROM embedded WHERE entity_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying embedded documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var emb storage.Embedded
		var embRaw string
		if err := rows.Scan(&emb.Kind, &embRaw); err != nil {
			return nil, fmt.Errorf("scanning embedded document: %w", err)
		}
		if err := json.Unmarshal([]byte(embRaw), &emb.Fields); err != nil {
			return nil, fmt.Errorf("unmarshaling embedded fields: %w", err)
		}
		e.Embedded = append(e.Embedded, emb)
	}
	return &e, rows.Err()
}

func (s *SQLiteStore) UploadFile(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (path, mime_type, data) VALUES (?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET mime_type = excluded.mime_type, data = excluded.data`,
		path, mimeType, data,
	)
	if err != nil {
		return "", fmt.Errorf("inserting file: %w", err)
	}
	return path, nil
}

// ReadFile returns a stored file's bytes and MIME type.
func (s *SQLiteStore) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	var data []byte
	var mime string
	err := s.db.QueryRowContext(ctx, `SELECT data, mime_type FROM files WHERE path = ?`, path).Scan(&data, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("file %s: %w", path, storage.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("querying file: %w", err)
	}
	return data, mime, nil
}
