package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step struct {
	msg *queue.Message
	err error
}

// scriptedExecutor replays steps and advances a fake clock by tick per call.
// Once the script runs out it behaves like an empty queue.
type scriptedExecutor struct {
	mu       sync.Mutex
	steps    []step
	timeouts []time.Duration
	now      time.Time
	tick     time.Duration
}

func newScripted(tick time.Duration, steps ...step) *scriptedExecutor {
	return &scriptedExecutor{steps: steps, tick: tick, now: time.Unix(1700000000, 0)}
}

func (s *scriptedExecutor) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *scriptedExecutor) WaitAndExecute(ctx context.Context, _ string, timeout time.Duration) (*queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = append(s.timeouts, timeout)
	s.now = s.now.Add(s.tick)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.steps) == 0 {
		return nil, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next.msg, next.err
}

func ok(id, payload string) step {
	return step{msg: &queue.Message{ID: id, Payload: []byte(payload)}}
}

func failed(id string, cause error) step {
	return step{err: &queue.JobFailedError{JobID: "job-" + id, MessageID: id, Cause: cause}}
}

func TestLoopStopsAtLimit(t *testing.T) {
	exec := newScripted(time.Second, ok("1", `{"a":1}`), ok("2", `{"a":2}`), ok("3", `{"a":3}`), ok("4", `{"a":4}`))
	var out bytes.Buffer

	stats, err := New(exec, "live", Options{Limit: 3, Verbose: true, Out: &out, Logger: logging.Discard(), Clock: exec.clock}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Executed)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, StopLimit, stats.Reason)
	assert.Len(t, exec.steps, 1, "fourth job must stay queued")
	assert.Contains(t, out.String(), `Watching queue "live"...`)
	assert.Contains(t, out.String(), `Successfully executed job "2" ({"a":2})`)
	assert.Contains(t, out.String(), "Quitting after 3 executed jobs due to --limit flag")
}

func TestLoopLimitSingularMessage(t *testing.T) {
	exec := newScripted(time.Second, ok("1", "{}"))
	var out bytes.Buffer

	_, err := New(exec, "live", Options{Limit: 1, Verbose: true, Out: &out, Clock: exec.clock, Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Quitting after 1 executed job due to --limit flag")
}

func TestLoopFailuresCountTowardLimit(t *testing.T) {
	exec := newScripted(time.Second, failed("1", errors.New("boom")), ok("2", "{}"))
	var out bytes.Buffer

	stats, err := New(exec, "live", Options{Limit: 2, Verbose: true, Out: &out, Clock: exec.clock, Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Executed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Contains(t, out.String(), "  Reason: boom")
}

func TestLoopExitAfterShrinksTimeout(t *testing.T) {
	// Every poll consumes 4s of a 10s budget against an empty queue
	exec := newScripted(4 * time.Second)
	var out bytes.Buffer

	stats, err := New(exec, "batch", Options{ExitAfter: 10 * time.Second, Verbose: true, Out: &out, Clock: exec.clock, Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopExitAfter, stats.Reason)
	assert.Equal(t, 0, stats.Executed)
	assert.Equal(t, []time.Duration{10 * time.Second, 6 * time.Second, 2 * time.Second}, exec.timeouts)
	assert.Contains(t, out.String(), `Watching queue "batch" for 10 seconds...`)
	assert.Contains(t, out.String(), "Quitting after 12 seconds due to --exit-after flag")
}

func TestLoopTimeoutNeverBelowOneSecond(t *testing.T) {
	exec := newScripted(2900 * time.Millisecond)

	_, err := New(exec, "live", Options{ExitAfter: 3 * time.Second, Clock: exec.clock, Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, exec.timeouts, 2)
	assert.Equal(t, time.Second, exec.timeouts[1])
}

func TestLoopWithoutBoundsUsesBlockingWait(t *testing.T) {
	exec := newScripted(time.Second, ok("1", "{}"))
	ctx, cancel := context.WithCancel(context.Background())
	exec.steps = append(exec.steps, step{err: context.Canceled})

	// Cancel as soon as the scripted cancellation is about to be returned
	loop := New(&cancellingExecutor{scriptedExecutor: exec, cancel: cancel, after: 1}, "live", Options{Clock: exec.clock, Logger: logging.Discard()})
	stats, err := loop.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, stats.Reason)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, time.Duration(0), exec.timeouts[0])
}

type cancellingExecutor struct {
	*scriptedExecutor
	cancel context.CancelFunc
	after  int
	calls  int
}

func (c *cancellingExecutor) WaitAndExecute(ctx context.Context, name string, timeout time.Duration) (*queue.Message, error) {
	if c.calls == c.after {
		c.cancel()
	}
	c.calls++
	return c.scriptedExecutor.WaitAndExecute(ctx, name, timeout)
}

func TestLoopInfrastructureErrorStops(t *testing.T) {
	exec := newScripted(time.Second, step{err: errors.New("database is locked")})

	stats, err := New(exec, "live", Options{Limit: 5, Clock: exec.clock, Logger: logging.Discard()}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 0, stats.Executed)
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x", 80)
	assert.Equal(t, strings.Repeat("x", 50)+"...", preview([]byte(long)))
	assert.Equal(t, "short", preview([]byte("short")))
}

func TestPreviewKeepsRunesWhole(t *testing.T) {
	// "x" shifts every two-byte rune so byte 50 falls inside one
	payload := "x" + strings.Repeat("ü", 40)

	got := preview([]byte(payload))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "x"+strings.Repeat("ü", 24)+"...", got)
}

func TestRunPool(t *testing.T) {
	exec := newScripted(0, ok("1", "{}"), ok("2", "{}"), ok("3", "{}"), ok("4", "{}"))

	stats, err := RunPool(context.Background(), 2, func(int) *Loop {
		return New(exec, "live", Options{Limit: 2, Clock: exec.clock, Logger: logging.Discard()})
	})
	require.NoError(t, err)
	require.Len(t, stats, 2)

	total := Total(stats)
	assert.Equal(t, 4, total.Executed)
	assert.Empty(t, exec.steps)
}

func TestRunPoolPropagatesError(t *testing.T) {
	exec := newScripted(0, step{err: errors.New("connection refused")})

	_, err := RunPool(context.Background(), 3, func(int) *Loop {
		return New(exec, "live", Options{Limit: 1, Clock: exec.clock, Logger: logging.Discard()})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
