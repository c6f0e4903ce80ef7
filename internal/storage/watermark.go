package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetWatermark returns the last checked timestamp, or nil when never checked
func (s *SQLiteStorage) GetWatermark(ctx context.Context) (*time.Time, error) {
	var lastChecked sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_checked FROM watermark WHERE id = 1`).Scan(&lastChecked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !lastChecked.Valid {
		return nil, nil
	}
	t := fromMicros(lastChecked.Int64)
	return &t, nil
}

// CompareAndSwapWatermark advances the watermark keyed by its current value
func (s *SQLiteStorage) CompareAndSwapWatermark(ctx context.Context, expected *time.Time, next time.Time) error {
	var prev sql.NullInt64
	if expected != nil {
		prev = sql.NullInt64{Int64: toMicros(*expected), Valid: true}
	}

	// IS compares NULL to NULL as equal
	result, err := s.db.ExecContext(ctx,
		`UPDATE watermark SET last_checked = ? WHERE id = 1 AND last_checked IS ?`,
		toMicros(next), prev)
	if err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWatermarkConflict
	}
	return nil
}
