package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dshills/nodequeue/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrWatermarkConflict is returned when another writer moved the watermark
	ErrWatermarkConflict = errors.New("watermark was changed by another writer")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so workers and producers can share the file
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Wait for competing writers instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Timestamps are stored as unix microseconds so range comparisons in SQL
// behave identically for both drivers.
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

// Workspace operations

func (s *SQLiteStorage) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	query := `
		INSERT INTO workspaces (name, base_workspace, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`
	now := time.Now()
	var base sql.NullString
	if ws.BaseWorkspace != "" {
		base = sql.NullString{String: ws.BaseWorkspace, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, query, ws.Name, base, toMicros(now))
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	ws.CreatedAt = fromMicros(toMicros(now))
	return nil
}

func (s *SQLiteStorage) GetWorkspace(ctx context.Context, name string) (*Workspace, error) {
	query := `SELECT name, base_workspace, created_at FROM workspaces WHERE name = ?`
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ws, err
}

func (s *SQLiteStorage) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	query := `SELECT name, base_workspace, created_at FROM workspaces ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	workspaces := make([]*Workspace, 0)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	var ws Workspace
	var base sql.NullString
	var createdAt int64
	if err := row.Scan(&ws.Name, &base, &createdAt); err != nil {
		return nil, err
	}
	ws.BaseWorkspace = base.String
	ws.CreatedAt = fromMicros(createdAt)
	return &ws, nil
}

// Node operations

const nodeColumns = `persistence_id, identifier, workspace, path, parent_path, node_type,
	dimension_values, dimensions_hash, hidden, removed, moved_to, access_roles,
	properties, last_modified`

func (s *SQLiteStorage) UpsertNode(ctx context.Context, node *NodeRecord) error {
	if node.PersistentID == "" {
		node.PersistentID = uuid.NewString()
	}
	if node.Dimensions == nil {
		node.Dimensions = types.DimensionValues{}
	}
	node.DimensionsHash = node.Dimensions.Hash()
	if node.ParentPath == "" && node.Path != "/" {
		node.ParentPath = path.Dir(node.Path)
	}

	dims, err := json.Marshal(node.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to encode dimensions: %w", err)
	}
	roles, err := json.Marshal(nonNilStrings(node.AccessRoles))
	if err != nil {
		return fmt.Errorf("failed to encode access roles: %w", err)
	}
	props := node.Properties
	if props == nil {
		props = map[string]string{}
	}
	properties, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	var lastModified sql.NullInt64
	if node.LastModified != nil {
		lastModified = sql.NullInt64{Int64: toMicros(*node.LastModified), Valid: true}
	}

	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(persistence_id) DO UPDATE SET
			path = excluded.path,
			parent_path = excluded.parent_path,
			node_type = excluded.node_type,
			dimension_values = excluded.dimension_values,
			dimensions_hash = excluded.dimensions_hash,
			hidden = excluded.hidden,
			removed = excluded.removed,
			moved_to = excluded.moved_to,
			access_roles = excluded.access_roles,
			properties = excluded.properties,
			last_modified = excluded.last_modified
	`
	_, err = s.db.ExecContext(ctx, query,
		node.PersistentID, node.Identifier, node.Workspace, node.Path, node.ParentPath,
		node.NodeType, string(dims), node.DimensionsHash, node.Hidden, node.Removed,
		node.MovedTo, string(roles), string(properties), lastModified)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetNodeByPersistentID(ctx context.Context, persistentID string) (*NodeRecord, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE persistence_id = ?`
	node, err := scanNode(s.db.QueryRowContext(ctx, query, persistentID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *SQLiteStorage) FindNodeVariants(ctx context.Context, identifier string, workspaces []string) ([]*NodeRecord, error) {
	if len(workspaces) == 0 {
		return []*NodeRecord{}, nil
	}
	placeholders, args := inClause(workspaces)
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE identifier = ? AND workspace IN (` + placeholders + `)
		ORDER BY persistence_id`
	return s.queryNodes(ctx, query, append([]interface{}{identifier}, args...)...)
}

func (s *SQLiteStorage) FindNodeVariantsByPath(ctx context.Context, nodePath string, workspaces []string) ([]*NodeRecord, error) {
	if len(workspaces) == 0 {
		return []*NodeRecord{}, nil
	}
	placeholders, args := inClause(workspaces)
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE path = ? AND workspace IN (` + placeholders + `)
		ORDER BY persistence_id`
	return s.queryNodes(ctx, query, append([]interface{}{nodePath}, args...)...)
}

func (s *SQLiteStorage) FindDescendantVariants(ctx context.Context, pathPrefix string, workspaces []string) ([]*NodeRecord, error) {
	if len(workspaces) == 0 {
		return []*NodeRecord{}, nil
	}
	placeholders, args := inClause(workspaces)
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE substr(path, 1, ?) = ? AND workspace IN (` + placeholders + `)
		ORDER BY path, persistence_id`
	prefix := strings.TrimSuffix(pathPrefix, "/") + "/"
	return s.queryNodes(ctx, query, append(prefixArgs(prefix), args...)...)
}

// Source queries

func (s *SQLiteStorage) PageByWorkspace(ctx context.Context, q PageQuery) ([]*NodeRecord, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("page limit must be positive, got %d", q.Limit)
	}

	var where strings.Builder
	args := []interface{}{q.Workspace}
	where.WriteString(`workspace = ? AND removed = 0 AND moved_to IS NULL`)

	if q.After != "" {
		where.WriteString(` AND persistence_id > ?`)
		args = append(args, q.After)
	}
	if q.PathPrefix != "" {
		where.WriteString(` AND substr(path, 1, ?) = ?`)
		args = append(args, prefixArgs(q.PathPrefix)...)
	}
	if q.DimensionsHash != "" {
		where.WriteString(` AND dimensions_hash = ?`)
		args = append(args, q.DimensionsHash)
	}
	if len(q.NodeTypes) > 0 {
		placeholders, typeArgs := inClause(q.NodeTypes)
		where.WriteString(` AND node_type IN (` + placeholders + `)`)
		args = append(args, typeArgs...)
	}
	args = append(args, q.Limit)

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE ` + where.String() +
		` ORDER BY persistence_id LIMIT ?`
	return s.queryNodes(ctx, query, args...)
}

func (s *SQLiteStorage) ChangedSince(ctx context.Context, workspace string, since *time.Time) ([]*ChangeRecord, error) {
	query := `
		SELECT persistence_id, identifier, workspace, dimension_values, last_modified
		FROM nodes
		WHERE workspace = ? AND last_modified IS NOT NULL`
	args := []interface{}{workspace}
	if since != nil {
		query += ` AND last_modified > ?`
		args = append(args, toMicros(*since))
	}
	query += ` ORDER BY last_modified ASC, persistence_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	changes := make([]*ChangeRecord, 0)
	for rows.Next() {
		var change ChangeRecord
		var dims string
		var lastModified int64
		if err := rows.Scan(&change.PersistentID, &change.Identifier, &change.Workspace, &dims, &lastModified); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dims), &change.Dimensions); err != nil {
			return nil, fmt.Errorf("invalid dimension values for %s: %w", change.PersistentID, err)
		}
		change.LastModified = fromMicros(lastModified)
		changes = append(changes, &change)
	}
	return changes, rows.Err()
}

func (s *SQLiteStorage) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	nodes := make([]*NodeRecord, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanNode(row rowScanner) (*NodeRecord, error) {
	var node NodeRecord
	var dims, roles, properties string
	var movedTo sql.NullString
	var lastModified sql.NullInt64

	err := row.Scan(
		&node.PersistentID, &node.Identifier, &node.Workspace, &node.Path, &node.ParentPath,
		&node.NodeType, &dims, &node.DimensionsHash, &node.Hidden, &node.Removed,
		&movedTo, &roles, &properties, &lastModified,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dims), &node.Dimensions); err != nil {
		return nil, fmt.Errorf("invalid dimension values for %s: %w", node.PersistentID, err)
	}
	if err := json.Unmarshal([]byte(roles), &node.AccessRoles); err != nil {
		return nil, fmt.Errorf("invalid access roles for %s: %w", node.PersistentID, err)
	}
	if err := json.Unmarshal([]byte(properties), &node.Properties); err != nil {
		return nil, fmt.Errorf("invalid properties for %s: %w", node.PersistentID, err)
	}
	if movedTo.Valid {
		node.MovedTo = &movedTo.String
	}
	if lastModified.Valid {
		t := fromMicros(lastModified.Int64)
		node.LastModified = &t
	}
	return &node, nil
}

// inClause builds "?, ?, ?" placeholders for the given values
func inClause(values []string) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

// prefixArgs binds a case-sensitive path prefix test. LIKE folds ASCII case
// in SQLite and substr counts characters, not bytes.
func prefixArgs(prefix string) []interface{} {
	return []interface{}{utf8.RuneCountInString(prefix), prefix}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
