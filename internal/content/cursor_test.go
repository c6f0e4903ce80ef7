package content

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/internal/storage"
)

func TestPageCursor(t *testing.T) {
	_, store := setupRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		upsert(t, store, &storage.NodeRecord{
			PersistentID: fmt.Sprintf("p%02d", i),
			Identifier:   fmt.Sprintf("n%02d", i),
			Workspace:    "live",
			Path:         fmt.Sprintf("/sites/s/n%02d", i),
		})
	}

	cursor := NewPageCursor(store, storage.PageQuery{Workspace: "live", Limit: 2})
	var pages [][]string
	for {
		page, err := cursor.Next(ctx)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		ids := make([]string, len(page))
		for i, r := range page {
			ids[i] = r.PersistentID
		}
		pages = append(pages, ids)
	}
	assert.Equal(t, [][]string{{"p00", "p01"}, {"p02", "p03"}, {"p04"}}, pages)
	assert.Equal(t, "p04", cursor.After())

	// Exhausted cursors stay exhausted
	page, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, page)

	// Restart from a saved position
	resumed := NewPageCursor(store, storage.PageQuery{Workspace: "live", Limit: 10, After: "p02"})
	page, err = resumed.Next(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "p03", page[0].PersistentID)
}

type failingSource struct{}

func (failingSource) PageByWorkspace(context.Context, storage.PageQuery) ([]*storage.NodeRecord, error) {
	return nil, fmt.Errorf("boom")
}

func TestPageCursor_Error(t *testing.T) {
	cursor := NewPageCursor(failingSource{}, storage.PageQuery{Workspace: "live", Limit: 1})
	_, err := cursor.Next(context.Background())
	assert.ErrorContains(t, err, "boom")
}
