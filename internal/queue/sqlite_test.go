package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteQueue_SubmitReserveFinish(t *testing.T) {
	ctx := context.Background()
	q := NewSQLiteQueue("nodequeue.batch", newTestStore(t), WithPollInterval(5*time.Millisecond))

	id, err := q.Submit(ctx, []byte(`{"n":1}`))
	require.NoError(t, err)

	ready, err := q.CountReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ready)

	msg, err := q.WaitAndReserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, `{"n":1}`, string(msg.Payload))
	assert.Equal(t, 0, msg.Releases)

	reserved, err := q.CountReserved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reserved)

	require.NoError(t, q.Finish(ctx, msg.ID))
	reserved, err = q.CountReserved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reserved)
}

func TestSQLiteQueue_TimeoutReturnsNil(t *testing.T) {
	q := NewSQLiteQueue("empty", newTestStore(t), WithPollInterval(5*time.Millisecond))

	start := time.Now()
	msg, err := q.WaitAndReserve(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSQLiteQueue_ContextCancel(t *testing.T) {
	q := NewSQLiteQueue("empty", newTestStore(t), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	msg, err := q.WaitAndReserve(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, msg)
}

func TestSQLiteQueue_ReleaseAndAbort(t *testing.T) {
	ctx := context.Background()
	q := NewSQLiteQueue("q", newTestStore(t))

	_, err := q.Submit(ctx, []byte("x"))
	require.NoError(t, err)

	msg, err := q.WaitAndReserve(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, msg.ID))

	msg, err = q.WaitAndReserve(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Releases)

	require.NoError(t, q.Abort(ctx, msg.ID))
	failed, err := q.CountFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	ready, err := q.CountReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, ready)
}

func TestSQLiteQueue_VisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewSQLiteQueue("q", newTestStore(t), WithVisibilityTimeout(time.Millisecond))

	_, err := q.Submit(ctx, []byte("x"))
	require.NoError(t, err)
	first, err := q.WaitAndReserve(ctx, time.Second)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	again, err := q.WaitAndReserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, again.Releases)
}

func TestSQLiteQueue_QueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	batch := NewSQLiteQueue("batch", store)
	live := NewSQLiteQueue("live", store, WithPollInterval(5*time.Millisecond))

	_, err := batch.Submit(ctx, []byte("x"))
	require.NoError(t, err)

	msg, err := live.WaitAndReserve(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.NoError(t, batch.Flush(ctx))
	ready, err := batch.CountReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, ready)
}

func TestSQLiteQueue_InvalidID(t *testing.T) {
	q := NewSQLiteQueue("q", newTestStore(t))
	assert.Error(t, q.Finish(context.Background(), "abc"))
}
