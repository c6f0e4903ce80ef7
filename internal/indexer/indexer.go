package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/queue"
)

// LiveWorkspace is the only workspace indexed when not all workspaces are
const LiveWorkspace = "live"

// Indexer indexes and removes nodes. targetWorkspace overrides the node's
// workspace, as when publishing moves nodes to another workspace.
type Indexer interface {
	Index(ctx context.Context, node *content.Node, targetWorkspace string) error
	Remove(ctx context.Context, node *content.Node, targetWorkspace string) error
}

// Enqueuer submits jobs to a named queue
type Enqueuer interface {
	Queue(ctx context.Context, queueName string, job queue.Job) (string, error)
}

// SyncIndexer writes straight to the sink
type SyncIndexer struct {
	sink Sink
}

// NewSyncIndexer creates an indexer writing to sink
func NewSyncIndexer(sink Sink) *SyncIndexer {
	return &SyncIndexer{sink: sink}
}

// Index puts the node in every dimension and flushes
func (i *SyncIndexer) Index(ctx context.Context, node *content.Node, targetWorkspace string) error {
	if err := i.sink.Put(ctx, node, targetWorkspace, true); err != nil {
		return fmt.Errorf("failed to index node %s: %w", node.Identifier(), err)
	}
	return i.sink.Flush(ctx)
}

// Remove deletes the node's document and flushes
func (i *SyncIndexer) Remove(ctx context.Context, node *content.Node, targetWorkspace string) error {
	if err := i.sink.Remove(ctx, node.Ref(), targetWorkspace); err != nil {
		return fmt.Errorf("failed to remove node %s: %w", node.Identifier(), err)
	}
	return i.sink.Flush(ctx)
}

// AsyncOptions configures the AsyncIndexer
type AsyncOptions struct {
	Enabled            bool
	IndexAllWorkspaces bool
	QueueName          string
}

// AsyncIndexer turns indexing calls into jobs on the live queue. When
// disabled it hands every call to the wrapped indexer.
type AsyncIndexer struct {
	next    Indexer
	jobs    Enqueuer
	planner *RemovalPlanner
	opts    AsyncOptions
	logger  *slog.Logger
}

// NewAsyncIndexer decorates next
func NewAsyncIndexer(next Indexer, jobs Enqueuer, planner *RemovalPlanner, opts AsyncOptions, logger *slog.Logger) *AsyncIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncIndexer{next: next, jobs: jobs, planner: planner, opts: opts, logger: logger}
}

// Index enqueues an IndexJob for the node. Removed nodes go through removal
// fan-out instead.
func (i *AsyncIndexer) Index(ctx context.Context, node *content.Node, targetWorkspace string) error {
	if node.IsRemoved() {
		return i.Remove(ctx, node, targetWorkspace)
	}
	if !i.opts.Enabled {
		return i.next.Index(ctx, node, targetWorkspace)
	}

	if !i.opts.IndexAllWorkspaces {
		workspace := targetWorkspace
		if workspace == "" {
			workspace = node.Context().Workspace
		}
		if workspace != LiveWorkspace {
			i.logger.Debug("skipping node outside live workspace", "node", node.Identifier(), "workspace", workspace)
			return nil
		}
	}

	job := NewIndexJob(targetWorkspace, node.Ref())
	if _, err := i.jobs.Queue(ctx, i.opts.QueueName, job); err != nil {
		return err
	}
	i.logger.Debug("queued index job", "job", job.Identifier(), "node", node.Identifier())
	return nil
}

// Remove enqueues one RemovalJob per dimension combination that lost its content
func (i *AsyncIndexer) Remove(ctx context.Context, node *content.Node, targetWorkspace string) error {
	if !i.opts.Enabled {
		return i.next.Remove(ctx, node, targetWorkspace)
	}

	jobs, err := i.planner.PlanRemoval(ctx, node, targetWorkspace)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if _, err := i.jobs.Queue(ctx, i.opts.QueueName, job); err != nil {
			return err
		}
	}
	i.logger.Debug("queued removal jobs", "node", node.Identifier(), "jobs", len(jobs))
	return nil
}
