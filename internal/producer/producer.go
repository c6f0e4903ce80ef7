package producer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/nodequeue/internal/metrics"
	"github.com/dshills/nodequeue/internal/queue"
)

// ErrQueueNotEmpty is returned when a full reindex is started while the
// batch queue still holds ready jobs
var ErrQueueNotEmpty = errors.New("queue not empty")

// ErrAlreadyRunning is returned when an incremental pass is already in
// progress in this process
var ErrAlreadyRunning = errors.New("incremental indexing already running")

// JobQueue submits jobs and exposes the queues behind them
type JobQueue interface {
	Queue(ctx context.Context, queueName string, job queue.Job) (string, error)
	GetQueue(name string) (queue.Queue, error)
}

// Option configures a producer
type Option func(*options)

type options struct {
	out     io.Writer
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		out:    io.Discard,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithOutput sets where operator progress is printed
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.out = w
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records producer metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(o *options) { o.metrics = mt }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
