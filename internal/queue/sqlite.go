package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dshills/nodequeue/internal/storage"
)

// Defaults of the SQLite backend
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultVisibilityTimeout = 5 * time.Minute
)

// SQLiteQueue stores messages in the queue_messages table. Reservation is an
// atomic UPDATE so several worker processes can share one database file.
type SQLiteQueue struct {
	name              string
	store             storage.MessageStore
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	now               func() time.Time
}

// SQLiteOption configures a SQLiteQueue.
type SQLiteOption func(*SQLiteQueue)

// WithPollInterval sets how often an empty queue is polled
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(q *SQLiteQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithVisibilityTimeout sets after how long a reservation is considered
// abandoned and the message becomes ready again. Zero disables the check.
func WithVisibilityTimeout(d time.Duration) SQLiteOption {
	return func(q *SQLiteQueue) {
		if d >= 0 {
			q.visibilityTimeout = d
		}
	}
}

// NewSQLiteQueue creates a queue over the message store
func NewSQLiteQueue(name string, store storage.MessageStore, opts ...SQLiteOption) *SQLiteQueue {
	q := &SQLiteQueue{
		name:              name,
		store:             store,
		pollInterval:      DefaultPollInterval,
		visibilityTimeout: DefaultVisibilityTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *SQLiteQueue) Name() string { return q.name }

func (q *SQLiteQueue) Submit(ctx context.Context, payload []byte) (string, error) {
	msg, err := q.store.InsertMessage(ctx, q.name, payload)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.ID, 10), nil
}

func (q *SQLiteQueue) WaitAndReserve(ctx context.Context, timeout time.Duration) (*Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = q.now().Add(timeout)
	}

	for {
		if q.visibilityTimeout > 0 {
			if _, err := q.store.RequeueExpired(ctx, q.name, q.now().Add(-q.visibilityTimeout)); err != nil {
				return nil, err
			}
		}

		record, err := q.store.ReserveMessage(ctx, q.name)
		if err == nil {
			return &Message{
				ID:       strconv.FormatInt(record.ID, 10),
				Payload:  record.Payload,
				Releases: record.Releases,
			}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		wait := q.pollInterval
		if !deadline.IsZero() {
			remaining := deadline.Sub(q.now())
			if remaining <= 0 {
				return nil, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *SQLiteQueue) Finish(ctx context.Context, id string) error {
	return q.withID(id, func(n int64) error { return q.store.FinishMessage(ctx, n) })
}

func (q *SQLiteQueue) Release(ctx context.Context, id string) error {
	return q.withID(id, func(n int64) error { return q.store.ReleaseMessage(ctx, n) })
}

func (q *SQLiteQueue) Abort(ctx context.Context, id string) error {
	return q.withID(id, func(n int64) error { return q.store.AbortMessage(ctx, n) })
}

func (q *SQLiteQueue) CountReady(ctx context.Context) (int, error) {
	counts, err := q.store.CountMessages(ctx, q.name)
	if err != nil {
		return 0, err
	}
	return counts.Ready, nil
}

func (q *SQLiteQueue) CountReserved(ctx context.Context) (int, error) {
	counts, err := q.store.CountMessages(ctx, q.name)
	if err != nil {
		return 0, err
	}
	return counts.Reserved, nil
}

func (q *SQLiteQueue) CountFailed(ctx context.Context) (int, error) {
	counts, err := q.store.CountMessages(ctx, q.name)
	if err != nil {
		return 0, err
	}
	return counts.Failed, nil
}

func (q *SQLiteQueue) Flush(ctx context.Context) error {
	_, err := q.store.FlushMessages(ctx, q.name)
	return err
}

func (q *SQLiteQueue) withID(id string, fn func(int64) error) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return fn(n)
}
