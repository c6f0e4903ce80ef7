package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertMessage appends a ready message to the named queue
func (s *SQLiteStorage) InsertMessage(ctx context.Context, queue string, payload []byte) (*QueueMessage, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_messages (queue, payload, state, releases, created_at) VALUES (?, ?, ?, 0, ?)`,
		queue, payload, MessageReady, toMicros(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &QueueMessage{
		ID:        id,
		Queue:     queue,
		Payload:   payload,
		State:     MessageReady,
		CreatedAt: fromMicros(toMicros(now)),
	}, nil
}

// ReserveMessage atomically moves the oldest ready message to reserved.
// Returns ErrNotFound when the queue has no ready message.
func (s *SQLiteStorage) ReserveMessage(ctx context.Context, queue string) (*QueueMessage, error) {
	query := `
		UPDATE queue_messages
		SET state = ?, reserved_at = ?
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE queue = ? AND state = ?
			ORDER BY id
			LIMIT 1
		)
		RETURNING id, queue, payload, state, releases, created_at, reserved_at
	`
	now := time.Now()
	var msg QueueMessage
	var createdAt int64
	var reservedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, MessageReserved, toMicros(now), queue, MessageReady).Scan(
		&msg.ID, &msg.Queue, &msg.Payload, &msg.State, &msg.Releases, &createdAt, &reservedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve message: %w", err)
	}
	msg.CreatedAt = fromMicros(createdAt)
	if reservedAt.Valid {
		t := fromMicros(reservedAt.Int64)
		msg.ReservedAt = &t
	}
	return &msg, nil
}

// RequeueExpired returns reservations older than reservedBefore to the ready state.
// A worker that died mid-job leaves its reservation behind; this is the visibility timeout.
func (s *SQLiteStorage) RequeueExpired(ctx context.Context, queue string, reservedBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET state = ?, reserved_at = NULL, releases = releases + 1
		WHERE queue = ? AND state = ? AND reserved_at < ?`,
		MessageReady, queue, MessageReserved, toMicros(reservedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired messages: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// FinishMessage deletes an acknowledged message
func (s *SQLiteStorage) FinishMessage(ctx context.Context, id int64) error {
	return s.execOne(ctx, `DELETE FROM queue_messages WHERE id = ?`, id)
}

// ReleaseMessage puts a reserved message back to ready and counts the release
func (s *SQLiteStorage) ReleaseMessage(ctx context.Context, id int64) error {
	return s.execOne(ctx,
		`UPDATE queue_messages SET state = ?, reserved_at = NULL, releases = releases + 1 WHERE id = ?`,
		MessageReady, id)
}

// AbortMessage moves a message to the failed state
func (s *SQLiteStorage) AbortMessage(ctx context.Context, id int64) error {
	return s.execOne(ctx,
		`UPDATE queue_messages SET state = ?, reserved_at = NULL WHERE id = ?`,
		MessageFailed, id)
}

// CountMessages returns per-state counts for a queue
func (s *SQLiteStorage) CountMessages(ctx context.Context, queue string) (*QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM queue_messages WHERE queue = ? GROUP BY state`, queue)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := &QueueCounts{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		switch state {
		case MessageReady:
			counts.Ready = n
		case MessageReserved:
			counts.Reserved = n
		case MessageFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// FlushMessages removes every message of a queue regardless of state
func (s *SQLiteStorage) FlushMessages(ctx context.Context, queue string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE queue = ?`, queue)
	if err != nil {
		return 0, fmt.Errorf("failed to flush queue %s: %w", queue, err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// execOne runs a statement that must touch exactly one row
func (s *SQLiteStorage) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
