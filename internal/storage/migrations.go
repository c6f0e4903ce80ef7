package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Workspaces, each optionally based on another one
CREATE TABLE IF NOT EXISTS workspaces (
    name TEXT PRIMARY KEY,
    base_workspace TEXT,
    created_at INTEGER NOT NULL
);

INSERT OR IGNORE INTO workspaces (name, base_workspace, created_at)
VALUES ('live', NULL, CAST(strftime('%s', 'now') AS INTEGER) * 1000000);

-- Node records, one row per workspace and dimension variant
CREATE TABLE IF NOT EXISTS nodes (
    persistence_id TEXT PRIMARY KEY,
    identifier TEXT NOT NULL,
    workspace TEXT NOT NULL,
    path TEXT NOT NULL,
    parent_path TEXT NOT NULL,
    node_type TEXT NOT NULL,
    dimension_values TEXT NOT NULL DEFAULT '{}',
    dimensions_hash TEXT NOT NULL,
    hidden BOOLEAN DEFAULT 0,
    removed BOOLEAN DEFAULT 0,
    moved_to TEXT,
    access_roles TEXT NOT NULL DEFAULT '[]',
    properties TEXT NOT NULL DEFAULT '{}',
    last_modified INTEGER,
    FOREIGN KEY (workspace) REFERENCES workspaces(name) ON DELETE CASCADE,
    UNIQUE(workspace, identifier, dimensions_hash)
);

CREATE INDEX IF NOT EXISTS idx_nodes_identifier ON nodes(identifier, workspace);
CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes(workspace, path);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);
CREATE INDEX IF NOT EXISTS idx_nodes_last_modified ON nodes(workspace, last_modified);

-- Single-row watermark
CREATE TABLE IF NOT EXISTS watermark (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_checked INTEGER
);

INSERT OR IGNORE INTO watermark (id, last_checked) VALUES (1, NULL);

-- Job queue messages
CREATE TABLE IF NOT EXISTS queue_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    queue TEXT NOT NULL,
    payload BLOB NOT NULL,
    state TEXT NOT NULL DEFAULT 'ready',
    releases INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    reserved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_queue_messages_state ON queue_messages(queue, state, id);

-- Search documents
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identifier TEXT NOT NULL,
    workspace TEXT NOT NULL,
    dimensions_hash TEXT NOT NULL,
    dimension_values TEXT NOT NULL DEFAULT '{}',
    node_type TEXT NOT NULL,
    path TEXT NOT NULL,
    title TEXT,
    body TEXT,
    updated_at INTEGER NOT NULL,
    UNIQUE(identifier, workspace, dimensions_hash)
);

CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace, dimensions_hash);

-- Full-text search on documents
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    title, body,
    content='documents',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, title, body)
    VALUES (new.id, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, title, body)
    VALUES ('delete', old.id, old.title, old.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, title, body)
    VALUES ('delete', old.id, old.title, old.body);
    INSERT INTO documents_fts(rowid, title, body)
    VALUES (new.id, new.title, new.body);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS documents_au;
DROP TRIGGER IF EXISTS documents_ad;
DROP TRIGGER IF EXISTS documents_ai;

DROP TABLE IF EXISTS documents_fts;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS queue_messages;
DROP TABLE IF EXISTS watermark;
DROP TABLE IF EXISTS nodes;
DROP TABLE IF EXISTS workspaces;
DROP TABLE IF EXISTS schema_version;
`

// schemaVersion returns the last applied schema version, 0.0.0 on a fresh database
func schemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return semver.MustParse("0.0.0"), nil
	}

	var raw string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
	}
	return v, nil
}

// ApplyMigrations brings the schema up to CurrentSchemaVersion. Each
// migration and its version row are applied in one transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		target, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(target) {
			continue
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		current = target
	}
	return nil
}

// RollbackMigration reverts the most recently applied migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for i := len(AllMigrations) - 1; i >= 0; i-- {
		m := AllMigrations[i]
		if !semver.MustParse(m.Version).Equal(current) {
			continue
		}
		// The down script drops schema_version itself for the first migration
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", m.Version); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, m.Down)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to roll back migration %s: %w", m.Version, err)
		}
		return nil
	}
	return fmt.Errorf("no migration to roll back from version %s", current)
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
