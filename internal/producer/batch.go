package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/indexer"
	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

// DefaultBatchSize is the number of nodes per IndexJob
const DefaultBatchSize = 500

// BuildOptions filters a full reindex
type BuildOptions struct {
	Workspace      string // Empty reindexes every workspace
	StartPath      string // Optional path prefix
	DimensionsHash string // Optional
}

// WorkspaceResult counts what was queued for one workspace
type WorkspaceResult struct {
	Workspace string
	Nodes     int
	Jobs      int
}

// BuildResult summarizes a full reindex
type BuildResult struct {
	Workspaces []WorkspaceResult
	Duration   time.Duration
}

// Nodes returns the total number of queued nodes
func (r *BuildResult) Nodes() int {
	n := 0
	for _, ws := range r.Workspaces {
		n += ws.Nodes
	}
	return n
}

// Jobs returns the total number of queued jobs
func (r *BuildResult) Jobs() int {
	n := 0
	for _, ws := range r.Workspaces {
		n += ws.Jobs
	}
	return n
}

// BatchProducer pages through the content tree and queues one IndexJob per page
type BatchProducer struct {
	source    content.PageSource
	repo      *content.Repository
	jobs      JobQueue
	queueName string
	batchSize int
	opts      options
}

// NewBatchProducer creates a batch producer writing to queueName
func NewBatchProducer(source content.PageSource, repo *content.Repository, jobs JobQueue, queueName string, batchSize int, opts ...Option) *BatchProducer {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	p := &BatchProducer{
		source:    source,
		repo:      repo,
		jobs:      jobs,
		queueName: queueName,
		batchSize: batchSize,
		opts:      defaultOptions(),
	}
	for _, opt := range opts {
		opt(&p.opts)
	}
	return p
}

// QueueName returns the queue jobs are written to
func (p *BatchProducer) QueueName() string {
	return p.queueName
}

// Build queues the fulltext roots of one or all workspaces.
//
// The batch queue must have no ready jobs. When all workspaces are reindexed
// this is checked once up front, not per workspace. On an enumeration error
// the counts so far are returned along with the error.
func (p *BatchProducer) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := p.opts.now()
	result := &BuildResult{}
	out := p.opts.out

	q, err := p.jobs.GetQueue(p.queueName)
	if err != nil {
		return nil, err
	}
	pending, err := q.CountReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	if pending != 0 {
		fmt.Fprintf(out, "!! The queue %q is not empty (%d pending jobs), please flush the queue.\n", p.queueName, pending)
		return nil, fmt.Errorf("%w: %s has %d pending jobs", ErrQueueNotEmpty, p.queueName, pending)
	}

	workspaces := []string{opts.Workspace}
	if opts.Workspace == "" {
		workspaces, err = p.repo.Workspaces(ctx)
		if err != nil {
			return nil, err
		}
	}

	for _, workspace := range workspaces {
		fmt.Fprintln(out)
		ws, err := p.indexWorkspace(ctx, workspace, opts)
		result.Workspaces = append(result.Workspaces, ws)
		if err != nil {
			result.Duration = p.opts.now().Sub(start)
			return result, err
		}
	}

	fmt.Fprintf(out, "Indexing jobs created for queue %s with success ...\n", p.queueName)
	result.Duration = p.opts.now().Sub(start)
	p.opts.logger.Info("full reindex queued", "queue", p.queueName, "nodes", result.Nodes(), "jobs", result.Jobs(), "duration", result.Duration)
	return result, nil
}

func (p *BatchProducer) indexWorkspace(ctx context.Context, workspace string, opts BuildOptions) (WorkspaceResult, error) {
	out := p.opts.out
	result := WorkspaceResult{Workspace: workspace}

	var filters []string
	if opts.StartPath != "" {
		filters = append(filters, fmt.Sprintf("starting from path %q", opts.StartPath))
	}
	if opts.DimensionsHash != "" {
		filters = append(filters, fmt.Sprintf("dimension hash %q", opts.DimensionsHash))
	}
	filterText := ""
	if len(filters) > 0 {
		filterText = " (" + strings.Join(filters, ", ") + ")"
	}
	fmt.Fprintf(out, "++ Indexing %s workspace%s\n", workspace, filterText)

	cursor := content.NewPageCursor(p.source, storage.PageQuery{
		Workspace:      workspace,
		Limit:          p.batchSize,
		PathPrefix:     opts.StartPath,
		DimensionsHash: opts.DimensionsHash,
		NodeTypes:      p.repo.FulltextRootTypes(),
	})

	for {
		page, err := cursor.Next(ctx)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}

		refs := make([]types.NodeRef, len(page))
		for i, record := range page {
			refs[i] = types.NodeRef{
				PersistentID: record.PersistentID,
				Identifier:   record.Identifier,
				Dimensions:   record.Dimensions,
				Workspace:    workspace,
				NodeType:     record.NodeType,
				Path:         record.Path,
			}
		}

		if _, err := p.jobs.Queue(ctx, p.queueName, indexer.NewIndexJob(workspace, refs...)); err != nil {
			return result, err
		}
		result.Nodes += len(refs)
		result.Jobs++
		fmt.Fprint(out, ".")

		p.repo.ClearState()
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "\nNumber of Nodes to be indexed in workspace '%s': %d\n\n", workspace, result.Nodes)
	return result, nil
}
