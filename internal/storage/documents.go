package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/dshills/nodequeue/pkg/types"
)

const documentColumns = `d.id, d.identifier, d.workspace, d.dimensions_hash, d.dimension_values,
	d.node_type, d.path, d.title, d.body, d.updated_at`

// upsertDocumentWithQuerier is the internal implementation that uses a querier
func upsertDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	if doc.Dimensions == nil {
		doc.Dimensions = types.DimensionValues{}
	}
	dims, err := json.Marshal(doc.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to encode dimensions: %w", err)
	}

	query := `
		INSERT INTO documents (identifier, workspace, dimensions_hash, dimension_values, node_type, path, title, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier, workspace, dimensions_hash) DO UPDATE SET
			dimension_values = excluded.dimension_values,
			node_type = excluded.node_type,
			path = excluded.path,
			title = excluded.title,
			body = excluded.body,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err = q.QueryRowContext(ctx, query,
		doc.Identifier, doc.Workspace, doc.DimensionsHash, string(dims),
		doc.NodeType, doc.Path, doc.Title, doc.Body, toMicros(now)).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	doc.UpdatedAt = fromMicros(toMicros(now))
	return nil
}

func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocumentWithQuerier(ctx, s.querier(), doc)
}

// getDocumentWithQuerier is the internal implementation that uses a querier
func getDocumentWithQuerier(ctx context.Context, q querier, identifier, workspace, dimensionsHash string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents d
		WHERE d.identifier = ? AND d.workspace = ? AND d.dimensions_hash = ?`
	doc, err := scanDocument(q.QueryRowContext(ctx, query, identifier, workspace, dimensionsHash))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, identifier, workspace, dimensionsHash string) (*Document, error) {
	return getDocumentWithQuerier(ctx, s.querier(), identifier, workspace, dimensionsHash)
}

// deleteDocumentsWithQuerier is the internal implementation that uses a querier.
// An empty dimensionsHash removes the document in every dimension.
func deleteDocumentsWithQuerier(ctx context.Context, q querier, identifier, workspace, dimensionsHash string) (int, error) {
	query := `DELETE FROM documents WHERE identifier = ? AND workspace = ?`
	args := []interface{}{identifier, workspace}
	if dimensionsHash != "" {
		query += ` AND dimensions_hash = ?`
		args = append(args, dimensionsHash)
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (s *SQLiteStorage) DeleteDocuments(ctx context.Context, identifier, workspace, dimensionsHash string) (int, error) {
	return deleteDocumentsWithQuerier(ctx, s.querier(), identifier, workspace, dimensionsHash)
}

// searchDocumentsWithQuerier performs BM25 full-text search using FTS5
func searchDocumentsWithQuerier(ctx context.Context, q querier, dq DocumentQuery) ([]DocumentResult, error) {
	match := buildMatchExpression(dq.Query)
	if match == "" {
		return nil, fmt.Errorf("empty search query")
	}
	limit := dq.Limit
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT ` + documentColumns + `, bm25(documents_fts) AS score
		FROM documents_fts
		INNER JOIN documents d ON documents_fts.rowid = d.id
		WHERE documents_fts MATCH ?
	`
	args := []interface{}{match}
	if dq.Workspace != "" {
		sqlQuery += " AND d.workspace = ?"
		args = append(args, dq.Workspace)
	}
	if dq.DimensionsHash != "" {
		sqlQuery += " AND d.dimensions_hash = ?"
		args = append(args, dq.DimensionsHash)
	}

	// Order by BM25 score (lower is better) and limit
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]DocumentResult, 0)
	for rows.Next() {
		var doc Document
		var dims string
		var updatedAt int64
		var title, body sql.NullString
		var score float64
		err := rows.Scan(&doc.ID, &doc.Identifier, &doc.Workspace, &doc.DimensionsHash, &dims,
			&doc.NodeType, &doc.Path, &title, &body, &updatedAt, &score)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dims), &doc.Dimensions); err != nil {
			return nil, fmt.Errorf("invalid dimension values for document %d: %w", doc.ID, err)
		}
		doc.Title = title.String
		doc.Body = body.String
		doc.UpdatedAt = fromMicros(updatedAt)

		// BM25 is negative with lower being better; normalize into (0, 1]
		results = append(results, DocumentResult{
			Document:  &doc,
			BM25Score: 1.0 / (1.0 + math.Abs(score)/50.0),
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) SearchDocuments(ctx context.Context, q DocumentQuery) ([]DocumentResult, error) {
	return searchDocumentsWithQuerier(ctx, s.querier(), q)
}

// countDocumentsWithQuerier is the internal implementation that uses a querier
func countDocumentsWithQuerier(ctx context.Context, q querier, workspace string) (int, error) {
	query := `SELECT COUNT(*) FROM documents`
	args := []interface{}{}
	if workspace != "" {
		query += ` WHERE workspace = ?`
		args = append(args, workspace)
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStorage) CountDocuments(ctx context.Context, workspace string) (int, error) {
	return countDocumentsWithQuerier(ctx, s.querier(), workspace)
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var dims string
	var updatedAt int64
	var title, body sql.NullString
	err := row.Scan(&doc.ID, &doc.Identifier, &doc.Workspace, &doc.DimensionsHash, &dims,
		&doc.NodeType, &doc.Path, &title, &body, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dims), &doc.Dimensions); err != nil {
		return nil, fmt.Errorf("invalid dimension values for document %d: %w", doc.ID, err)
	}
	doc.Title = title.String
	doc.Body = body.String
	doc.UpdatedAt = fromMicros(updatedAt)
	return &doc, nil
}

// buildMatchExpression quotes every term so FTS5 operators in user input are literal.
// Terms are ANDed.
func buildMatchExpression(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// Transaction methods - delegate to the querier-based implementations

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, identifier, workspace, dimensionsHash string) (*Document, error) {
	return getDocumentWithQuerier(ctx, t.querier(), identifier, workspace, dimensionsHash)
}

func (t *sqliteTx) DeleteDocuments(ctx context.Context, identifier, workspace, dimensionsHash string) (int, error) {
	return deleteDocumentsWithQuerier(ctx, t.querier(), identifier, workspace, dimensionsHash)
}

func (t *sqliteTx) SearchDocuments(ctx context.Context, q DocumentQuery) ([]DocumentResult, error) {
	return searchDocumentsWithQuerier(ctx, t.querier(), q)
}

func (t *sqliteTx) CountDocuments(ctx context.Context, workspace string) (int, error) {
	return countDocumentsWithQuerier(ctx, t.querier(), workspace)
}
