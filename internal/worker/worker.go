package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/nodequeue/internal/queue"
)

// previewLength is how much of a payload verbose output shows
const previewLength = 50

// Executor reserves and executes the next job of a queue
type Executor interface {
	WaitAndExecute(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error)
}

// StopReason tells why a loop ended
type StopReason string

const (
	StopExitAfter StopReason = "exit-after"
	StopLimit     StopReason = "limit"
	StopCancelled StopReason = "cancelled"
)

// Options bound a worker loop. Zero values mean unbounded.
type Options struct {
	ExitAfter time.Duration
	Limit     int
	Verbose   bool
	Out       io.Writer
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Stats counts what a loop did
type Stats struct {
	Executed  int // Successes and failures
	Succeeded int
	Failed    int
	Reason    StopReason
	Elapsed   time.Duration
}

// Loop polls one queue and executes jobs until a bound is reached
type Loop struct {
	exec      Executor
	queueName string
	opts      Options
}

// New creates a loop
func New(exec Executor, queueName string, opts Options) *Loop {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Loop{exec: exec, queueName: queueName, opts: opts}
}

// Run polls until the time budget or the job limit is reached, or ctx is
// done. Failed jobs count toward the limit and are left to the queue's
// release policy. Errors other than job failures abort the loop.
func (l *Loop) Run(ctx context.Context) (*Stats, error) {
	out := l.opts.Out
	logger := l.opts.Logger.With("queue", l.queueName)
	stats := &Stats{}
	start := l.opts.Clock()

	if l.opts.Verbose {
		fmt.Fprintf(out, "Watching queue %q", l.queueName)
		if l.opts.ExitAfter > 0 {
			fmt.Fprintf(out, " for %d seconds", int(l.opts.ExitAfter.Seconds()))
		}
		fmt.Fprintln(out, "...")
	}

	for {
		var timeout time.Duration
		if l.opts.ExitAfter > 0 {
			timeout = l.opts.ExitAfter - l.opts.Clock().Sub(start)
			if timeout < time.Second {
				timeout = time.Second
			}
		}

		msg, err := l.exec.WaitAndExecute(ctx, l.queueName, timeout)
		switch {
		case err == nil && msg != nil:
			stats.Executed++
			stats.Succeeded++
			if l.opts.Verbose {
				fmt.Fprintf(out, "Successfully executed job %q (%s)\n", msg.ID, preview(msg.Payload))
			}
		case err != nil && queue.IsJobFailed(err):
			stats.Executed++
			stats.Failed++
			l.reportFailure(logger, err)
		case err != nil && ctx.Err() != nil:
			stats.Reason = StopCancelled
			stats.Elapsed = l.opts.Clock().Sub(start)
			return stats, nil
		case err != nil:
			stats.Elapsed = l.opts.Clock().Sub(start)
			return stats, fmt.Errorf("worker on %s stopped: %w", l.queueName, err)
		}

		elapsed := l.opts.Clock().Sub(start)
		if l.opts.ExitAfter > 0 && elapsed >= l.opts.ExitAfter {
			if l.opts.Verbose {
				fmt.Fprintf(out, "Quitting after %d seconds due to --exit-after flag\n", int(elapsed.Seconds()))
			}
			stats.Reason = StopExitAfter
			stats.Elapsed = elapsed
			return stats, nil
		}
		if l.opts.Limit > 0 && stats.Executed >= l.opts.Limit {
			if l.opts.Verbose {
				plural := ""
				if stats.Executed > 1 {
					plural = "s"
				}
				fmt.Fprintf(out, "Quitting after %d executed job%s due to --limit flag\n", stats.Executed, plural)
			}
			stats.Reason = StopLimit
			stats.Elapsed = elapsed
			return stats, nil
		}
	}
}

func (l *Loop) reportFailure(logger *slog.Logger, err error) {
	var cause error
	var jobErr *queue.JobFailedError
	if errors.As(err, &jobErr) {
		cause = jobErr.Cause
	}
	if l.opts.Verbose {
		fmt.Fprintln(l.opts.Out, err.Error())
		if cause != nil {
			fmt.Fprintf(l.opts.Out, "  Reason: %s\n", cause.Error())
		}
	}
	if cause != nil {
		logger.Error(fmt.Sprintf("Indexing job failed: %s. Detailed reason %s", err, cause))
		return
	}
	logger.Error("Indexing job failed: " + err.Error())
}

// preview shortens a payload for display
func preview(payload []byte) string {
	if len(payload) <= previewLength {
		return string(payload)
	}
	n := previewLength
	for n > 0 && !utf8.RuneStart(payload[n]) {
		n--
	}
	return string(payload[:n]) + "..."
}

// RunPool runs n loops concurrently and waits for all of them. The first
// loop error cancels the others.
func RunPool(ctx context.Context, n int, newLoop func(i int) *Loop) ([]*Stats, error) {
	if n < 1 {
		n = 1
	}
	stats := make([]*Stats, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		loop := newLoop(i)
		g.Go(func() error {
			s, err := loop.Run(gctx)
			stats[i] = s
			return err
		})
	}
	err := g.Wait()
	return stats, err
}

// Total sums the stats of several loops
func Total(all []*Stats) Stats {
	var total Stats
	for _, s := range all {
		if s == nil {
			continue
		}
		total.Executed += s.Executed
		total.Succeeded += s.Succeeded
		total.Failed += s.Failed
		if s.Elapsed > total.Elapsed {
			total.Elapsed = s.Elapsed
		}
	}
	return total
}
