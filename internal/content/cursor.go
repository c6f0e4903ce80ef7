package content

import (
	"context"
	"fmt"

	"github.com/dshills/nodequeue/internal/storage"
)

// PageSource is the paginated read side of the content store
type PageSource interface {
	PageByWorkspace(ctx context.Context, q storage.PageQuery) ([]*storage.NodeRecord, error)
}

// PageCursor streams the records of one workspace page by page, ordered by
// persistent id. A cursor can be restarted from After().
type PageCursor struct {
	source PageSource
	query  storage.PageQuery
	done   bool
}

// NewPageCursor creates a cursor. query.After may carry a resume position.
func NewPageCursor(source PageSource, query storage.PageQuery) *PageCursor {
	return &PageCursor{source: source, query: query}
}

// Next returns the next page. An empty page means the cursor is exhausted.
func (c *PageCursor) Next(ctx context.Context) ([]*storage.NodeRecord, error) {
	if c.done {
		return nil, nil
	}
	page, err := c.source.PageByWorkspace(ctx, c.query)
	if err != nil {
		return nil, fmt.Errorf("failed to read page after %q: %w", c.query.After, err)
	}
	if len(page) == 0 {
		c.done = true
		return nil, nil
	}
	c.query.After = page[len(page)-1].PersistentID
	return page, nil
}

// After returns the persistent id of the last record handed out
func (c *PageCursor) After() string {
	return c.query.After
}
