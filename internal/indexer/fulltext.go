package indexer

import (
	"context"

	"github.com/dshills/nodequeue/internal/content"
)

// FindFulltextRoot returns the node itself or its closest ancestor that is a
// fulltext root. Returns nil when no ancestor qualifies.
func FindFulltextRoot(ctx context.Context, repo *content.Repository, node *content.Node) (*content.Node, error) {
	for current := node; current != nil; {
		if repo.IsFulltextRoot(current) {
			return current, nil
		}
		parent, err := repo.Parent(ctx, current)
		if err != nil {
			return nil, err
		}
		current = parent
	}
	return nil, nil
}
