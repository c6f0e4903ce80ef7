package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/internal/indexer"
	"github.com/dshills/nodequeue/internal/storage"
)

const timestampLayout = "2006-01-02 15:04:05"

// ChangeSource lists rows modified after a timestamp
type ChangeSource interface {
	ChangedSince(ctx context.Context, workspace string, since *time.Time) ([]*storage.ChangeRecord, error)
}

// RunResult summarizes one incremental pass
type RunResult struct {
	PreviousWatermark *time.Time
	Watermark         time.Time
	Bootstrapped      bool // No watermark existed; one was written and nothing queued
	Changed           int
	Unresolved        int
	Duplicates        int
	Queued            int // Index jobs
	Removals          int // Removal jobs for removed fulltext roots
	ExitedEarly       bool
}

// changedNode is a change row resolved into a node
type changedNode struct {
	node         *content.Node
	lastModified time.Time
}

// IncrementalProducer queues the fulltext roots of nodes changed since the
// watermark and advances the watermark behind them
type IncrementalProducer struct {
	changes   ChangeSource
	watermark storage.WatermarkStore
	repo      *content.Repository
	resolver  *dimension.Resolver
	planner   *indexer.RemovalPlanner
	jobs      JobQueue
	queueName string
	lock      indexer.IndexLock
	opts      options
}

// NewIncrementalProducer creates a producer writing to queueName
func NewIncrementalProducer(changes ChangeSource, watermark storage.WatermarkStore, repo *content.Repository, resolver *dimension.Resolver, jobs JobQueue, queueName string, opts ...Option) *IncrementalProducer {
	p := &IncrementalProducer{
		changes:   changes,
		watermark: watermark,
		repo:      repo,
		resolver:  resolver,
		planner:   indexer.NewRemovalPlanner(repo, resolver),
		jobs:      jobs,
		queueName: queueName,
		opts:      defaultOptions(),
	}
	for _, opt := range opts {
		opt(&p.opts)
	}
	return p
}

// RunOnce runs one incremental pass over a workspace. exitAfter <= 0 means
// no time budget.
//
// The watermark moves to a row's timestamp only when the next row is strictly
// newer, so rows sharing a timestamp are always covered together. A pass that
// runs to the end sets the watermark to its start time. Every write is a
// compare-and-swap against the value read before; a concurrent writer makes
// the pass fail with storage.ErrWatermarkConflict.
func (p *IncrementalProducer) RunOnce(ctx context.Context, workspace string, exitAfter time.Duration) (*RunResult, error) {
	if !p.lock.TryAcquire() {
		return nil, ErrAlreadyRunning
	}
	defer p.lock.Release()

	out := p.opts.out
	startTime := p.opts.now()
	result := &RunResult{}

	current, err := p.watermark.GetWatermark(ctx)
	if err != nil {
		return nil, err
	}
	result.PreviousWatermark = current

	if current == nil {
		fmt.Fprintln(out, "No previous check found. Initializing the watermark.")
		if err := p.advance(ctx, &current, startTime); err != nil {
			return nil, err
		}
		result.Bootstrapped = true
		result.Watermark = startTime
		return result, nil
	}
	fmt.Fprintf(out, "Checking nodes changed since %s.\n", current.Format(timestampLayout))

	changed, err := p.resolveChanges(ctx, workspace, current, result)
	if err != nil {
		return result, err
	}
	fmt.Fprintf(out, "Found %d changed nodes.\n", len(changed))

	queued := make(map[string]bool)
	for i, change := range changed {
		if err := p.queueFulltextRoot(ctx, workspace, change.node, queued, result); err != nil {
			return result, err
		}

		if i+1 < len(changed) && changed[i+1].lastModified.After(change.lastModified) {
			if err := p.advance(ctx, &current, change.lastModified); err != nil {
				return result, err
			}
			result.Watermark = change.lastModified
			fmt.Fprintf(out, "All nodes up to %s were processed. Advancing the watermark.\n", change.lastModified.Format(timestampLayout))
		}

		if exitAfter > 0 {
			if elapsed := p.opts.now().Sub(startTime); elapsed >= exitAfter {
				fmt.Fprintf(out, "Quitting after %d seconds due to --exit-after flag\n", int(elapsed.Seconds()))
				result.ExitedEarly = true
				return result, nil
			}
		}
	}

	if err := p.advance(ctx, &current, startTime); err != nil {
		return result, err
	}
	result.Watermark = startTime
	fmt.Fprintln(out, "Indexing jobs generated.")
	p.opts.logger.Info("incremental pass finished", "workspace", workspace, "changed", result.Changed,
		"queued", result.Queued, "removals", result.Removals, "duplicates", result.Duplicates, "unresolved", result.Unresolved)
	return result, nil
}

// resolveChanges maps change rows to nodes, dropping rows that cannot be resolved
func (p *IncrementalProducer) resolveChanges(ctx context.Context, workspace string, since *time.Time, result *RunResult) ([]changedNode, error) {
	rows, err := p.changes.ChangedSince(ctx, workspace, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed nodes: %w", err)
	}
	result.Changed = len(rows)

	nodes := make([]changedNode, 0, len(rows))
	for _, row := range rows {
		node, err := p.mapRow(ctx, row)
		if err != nil {
			if errors.Is(err, dimension.ErrNoCombination) {
				p.opts.logger.Error("failed to map changed row", "identifier", row.Identifier, "error", err)
				p.opts.metrics.IncNodesSkipped("unmapped")
				result.Unresolved++
				continue
			}
			return nil, err
		}
		if node == nil {
			p.opts.logger.Warn("changed row does not resolve to a node", "identifier", row.Identifier, "workspace", row.Workspace)
			p.opts.metrics.IncNodesSkipped("unresolved")
			result.Unresolved++
			continue
		}
		nodes = append(nodes, changedNode{node: node, lastModified: row.LastModified})
	}
	return nodes, nil
}

// mapRow resolves a row in the combination sharing its primary dimension value,
// with hidden, removed and inaccessible content shown
func (p *IncrementalProducer) mapRow(ctx context.Context, row *storage.ChangeRecord) (*content.Node, error) {
	dims, err := p.resolver.MapRow(row.Dimensions)
	if err != nil {
		return nil, err
	}
	cc := content.Context{
		Workspace:                row.Workspace,
		Dimensions:               dims,
		InvisibleContentShown:    true,
		RemovedContentShown:      true,
		InaccessibleContentShown: true,
	}
	return p.repo.NodeByIdentifier(ctx, cc, row.Identifier)
}

func (p *IncrementalProducer) queueFulltextRoot(ctx context.Context, workspace string, node *content.Node, queued map[string]bool, result *RunResult) error {
	out := p.opts.out
	root, err := indexer.FindFulltextRoot(ctx, p.repo, node)
	if err != nil {
		return err
	}
	if root == nil {
		fmt.Fprintf(out, "Could not find a fulltext root for node %s.\n", node.Identifier())
		result.Unresolved++
		return nil
	}

	hash := root.Dimensions().Hash()
	key := root.Identifier() + "_" + hash
	if queued[key] {
		fmt.Fprintf(out, "Node %s with dimension hash %s was already queued.\n", root.Identifier(), hash)
		result.Duplicates++
		return nil
	}

	queued[key] = true
	if root.IsRemoved() {
		return p.queueRemoval(ctx, workspace, root, result)
	}
	if _, err := p.jobs.Queue(ctx, p.queueName, indexer.NewIndexJob(workspace, root.Ref())); err != nil {
		return err
	}
	result.Queued++
	return nil
}

// queueRemoval fans a removed fulltext root out into removal jobs for every
// combination that no longer resolves to live content
func (p *IncrementalProducer) queueRemoval(ctx context.Context, workspace string, root *content.Node, result *RunResult) error {
	jobs, err := p.planner.PlanRemoval(ctx, root, workspace)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if _, err := p.jobs.Queue(ctx, p.queueName, job); err != nil {
			return err
		}
	}
	fmt.Fprintf(p.opts.out, "Node %s was removed, queued %d removal jobs.\n", root.Identifier(), len(jobs))
	result.Removals += len(jobs)
	return nil
}

// advance swaps the watermark from *current to next
func (p *IncrementalProducer) advance(ctx context.Context, current **time.Time, next time.Time) error {
	if err := p.watermark.CompareAndSwapWatermark(ctx, *current, next); err != nil {
		return fmt.Errorf("failed to advance watermark to %s: %w", next.Format(time.RFC3339Nano), err)
	}
	*current = &next
	p.opts.metrics.SetWatermark(float64(next.UnixMicro()) / 1e6)
	return nil
}
