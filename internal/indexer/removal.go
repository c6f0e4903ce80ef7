package indexer

import (
	"context"
	"fmt"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/pkg/types"
)

// RemovalPlanner decides which dimension combinations lose a removed node
type RemovalPlanner struct {
	repo     *content.Repository
	resolver *dimension.Resolver
}

// NewRemovalPlanner creates a planner
func NewRemovalPlanner(repo *content.Repository, resolver *dimension.Resolver) *RemovalPlanner {
	return &RemovalPlanner{repo: repo, resolver: resolver}
}

// PlanRemoval returns the removal jobs for a removed node.
//
// Without indexing combinations a single job carries the node itself. Otherwise
// every combination in which a live, non-removed node with the same identifier
// still resolves is skipped, and the rest get a job with a sentinel ref that
// executors must not re-fetch.
func (p *RemovalPlanner) PlanRemoval(ctx context.Context, node *content.Node, targetWorkspace string) ([]*RemovalJob, error) {
	combinations := p.resolver.CombinationsForIndexing(node.Dimensions())
	if len(combinations) == 0 {
		return []*RemovalJob{NewRemovalJob(targetWorkspace, node.Ref())}, nil
	}

	workspace := targetWorkspace
	if workspace == "" {
		workspace = node.Workspace()
	}

	jobs := make([]*RemovalJob, 0, len(combinations))
	for _, combination := range combinations {
		cc := content.Context{Workspace: workspace, Dimensions: combination}
		live, err := p.repo.NodeByIdentifier(ctx, cc, node.Identifier())
		if err != nil {
			return nil, fmt.Errorf("failed to check %s in %s: %w", node.Identifier(), combination, err)
		}
		if live != nil && !live.IsRemoved() {
			continue
		}

		jobs = append(jobs, NewRemovalJob(targetWorkspace, types.NodeRef{
			PersistentID: types.RemovedPersistentID,
			Identifier:   node.Identifier(),
			Dimensions:   combination,
			Workspace:    node.Workspace(),
			NodeType:     node.NodeType(),
			Path:         node.Path(),
		}))
	}
	return jobs, nil
}
