package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/nodequeue/internal/metrics"
)

// DefaultMaxReleases is how often a failed message is put back before it is aborted
const DefaultMaxReleases = 3

// Manager submits jobs to named queues and executes reserved ones
type Manager struct {
	codec       *Codec
	maxReleases int
	retry       RetryConfig
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu     sync.RWMutex
	queues map[string]Queue
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithMaxReleases sets the release budget per message
func WithMaxReleases(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.maxReleases = n
		}
	}
}

// WithRetry sets the submit retry policy
func WithRetry(cfg RetryConfig) ManagerOption {
	return func(m *Manager) { m.retry = cfg }
}

// WithMetrics records enqueue and execution counters
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager over the given queues
func NewManager(codec *Codec, queues []Queue, opts ...ManagerOption) *Manager {
	m := &Manager{
		codec:       codec,
		maxReleases: DefaultMaxReleases,
		retry:       DefaultRetryConfig(),
		logger:      slog.Default(),
		queues:      make(map[string]Queue, len(queues)),
	}
	for _, q := range queues {
		m.queues[q.Name()] = q
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces a queue
func (m *Manager) Register(q Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[q.Name()] = q
}

// GetQueue returns a registered queue
func (m *Manager) GetQueue(name string) (Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q, nil
}

// QueueNames returns the registered queue names, sorted
func (m *Manager) QueueNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Codec returns the codec used for payloads
func (m *Manager) Codec() *Codec {
	return m.codec
}

// Queue encodes a job and submits it, retrying transient submit failures.
// Returns the message id.
func (m *Manager) Queue(ctx context.Context, queueName string, job Job) (string, error) {
	q, err := m.GetQueue(queueName)
	if err != nil {
		return "", err
	}
	payload, err := m.codec.Encode(job)
	if err != nil {
		return "", err
	}

	id, err := retryWithBackoff(ctx, m.retry, func() (string, error) {
		return q.Submit(ctx, payload)
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit job %s to %s: %w", job.Identifier(), queueName, err)
	}

	m.metrics.IncJobsEnqueued(queueName, job.Type())
	m.logger.Debug("job queued", "queue", queueName, "job", job.Identifier(), "message", id, "bytes", len(payload))
	return id, nil
}

// WaitAndExecute reserves the next message, executes its job and finishes the
// message. Returns nil when the timeout elapsed without a message.
//
// A failing job is released for another attempt until it has been released
// maxReleases times, then aborted. Either way a *JobFailedError is returned.
// The returned message carries the uncompressed envelope as payload.
func (m *Manager) WaitAndExecute(ctx context.Context, queueName string, timeout time.Duration) (*Message, error) {
	q, err := m.GetQueue(queueName)
	if err != nil {
		return nil, err
	}

	msg, err := q.WaitAndReserve(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve message on %s: %w", queueName, err)
	}
	if msg == nil {
		return nil, nil
	}

	plain, err := m.codec.Unwrap(msg.Payload)
	if err == nil {
		msg.Payload = plain
	}
	job, err := m.codec.Decode(msg.Payload)
	if err != nil {
		// An undecodable payload never succeeds, skip the release budget
		if abortErr := q.Abort(context.WithoutCancel(ctx), msg.ID); abortErr != nil {
			return nil, fmt.Errorf("failed to abort undecodable message %s: %w", msg.ID, abortErr)
		}
		m.metrics.IncJobsExecuted(queueName, "failure")
		return nil, &JobFailedError{MessageID: msg.ID, Aborted: true, Cause: err}
	}

	execErr := job.Execute(ctx, q, msg)
	if execErr == nil {
		if err := q.Finish(ctx, msg.ID); err != nil {
			return nil, fmt.Errorf("failed to finish message %s: %w", msg.ID, err)
		}
		m.metrics.IncJobsExecuted(queueName, "success")
		return msg, nil
	}

	// Cancelled mid-job: hand the message back without counting it as a failure
	if ctx.Err() != nil && errors.Is(execErr, ctx.Err()) {
		if err := q.Release(context.WithoutCancel(ctx), msg.ID); err != nil {
			m.logger.Warn("failed to release message after cancellation", "message", msg.ID, "error", err)
		}
		return nil, ctx.Err()
	}

	m.metrics.IncJobsExecuted(queueName, "failure")
	jobErr := &JobFailedError{JobID: job.Identifier(), MessageID: msg.ID, Cause: execErr}
	if msg.Releases < m.maxReleases {
		if err := q.Release(ctx, msg.ID); err != nil {
			return nil, fmt.Errorf("failed to release message %s: %w", msg.ID, err)
		}
		m.logger.Debug("job released", "job", job.Identifier(), "releases", msg.Releases+1)
		return nil, jobErr
	}

	if err := q.Abort(ctx, msg.ID); err != nil {
		return nil, fmt.Errorf("failed to abort message %s: %w", msg.ID, err)
	}
	jobErr.Aborted = true
	m.logger.Warn("job aborted after release budget", "job", job.Identifier(), "releases", msg.Releases)
	return nil, jobErr
}
