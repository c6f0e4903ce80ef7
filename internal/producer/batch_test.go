package producer

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/storage"
)

func seedPages(t *testing.T, f *fixture, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		record := f.upsert(t, &storage.NodeRecord{
			PersistentID: fmt.Sprintf("pid-%03d", i),
			Identifier:   fmt.Sprintf("page-%d", i),
			Path:         fmt.Sprintf("/sites/s/page-%d", i),
			NodeType:     documentType,
		})
		ids = append(ids, record.PersistentID)
		// Content below a page is never a batch entry
		f.upsert(t, &storage.NodeRecord{
			PersistentID: fmt.Sprintf("pid-%03d-text", i),
			Identifier:   fmt.Sprintf("text-%d", i),
			Path:         fmt.Sprintf("/sites/s/page-%d/main/text", i),
		})
	}
	f.upsert(t, &storage.NodeRecord{PersistentID: "pid-removed", Identifier: "gone", Path: "/sites/s/gone", NodeType: documentType, Removed: true})
	return ids
}

func TestBuild_PaginatesEveryRootExactlyOnce(t *testing.T) {
	const n = 7
	for _, pageSize := range []int{1, 2, 3, 5, 7, 10} {
		t.Run(fmt.Sprintf("page size %d", pageSize), func(t *testing.T) {
			f := setupFixture(t)
			want := seedPages(t, f, n)

			p := NewBatchProducer(f.store, f.repo, f.manager, batchQueue, pageSize, WithLogger(logging.Discard()))
			result, err := p.Build(context.Background(), BuildOptions{Workspace: "live"})
			require.NoError(t, err)

			jobs := f.drain(t, f.batch)
			assert.Len(t, jobs, (n+pageSize-1)/pageSize)
			assert.Equal(t, len(jobs), result.Jobs())
			assert.Equal(t, n, result.Nodes())

			var got []string
			for _, job := range jobs {
				assert.Equal(t, "live", job.TargetWorkspace)
				for _, ref := range job.Nodes {
					assert.Equal(t, "live", ref.Workspace)
					got = append(got, ref.PersistentID)
				}
			}
			assert.True(t, sort.StringsAreSorted(got), "refs in ascending cursor order")
			assert.Equal(t, want, got)
		})
	}
}

func TestBuild_RefusesNonEmptyQueue(t *testing.T) {
	f := setupFixture(t)
	seedPages(t, f, 3)
	_, err := f.batch.Submit(context.Background(), []byte(`{"type":"index","job":{}}`))
	require.NoError(t, err)

	var out bytes.Buffer
	p := NewBatchProducer(f.store, f.repo, f.manager, batchQueue, 2, WithOutput(&out))
	_, err = p.Build(context.Background(), BuildOptions{Workspace: "live"})
	require.ErrorIs(t, err, ErrQueueNotEmpty)
	assert.Contains(t, out.String(), `The queue "nodequeue.batch" is not empty (1 pending jobs)`)

	ready, err := f.batch.CountReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ready)
}

func TestBuild_Filters(t *testing.T) {
	f := setupFixture(t, mutualLanguages())
	f.upsert(t, &storage.NodeRecord{Identifier: "a", Path: "/sites/s/blog/a", NodeType: documentType, Dimensions: lang("en")})
	f.upsert(t, &storage.NodeRecord{Identifier: "a", Path: "/sites/s/blog/a", NodeType: documentType, Dimensions: lang("de")})
	f.upsert(t, &storage.NodeRecord{Identifier: "b", Path: "/sites/s/about", NodeType: documentType, Dimensions: lang("en")})

	var out bytes.Buffer
	p := NewBatchProducer(f.store, f.repo, f.manager, batchQueue, 10, WithOutput(&out))
	hash := lang("de").Hash()
	result, err := p.Build(context.Background(), BuildOptions{Workspace: "live", StartPath: "/sites/s/blog", DimensionsHash: hash})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Nodes())

	jobs := f.drain(t, f.batch)
	require.Len(t, jobs, 1)
	require.Len(t, jobs[0].Nodes, 1)
	assert.Equal(t, "a", jobs[0].Nodes[0].Identifier)
	assert.Equal(t, lang("de"), jobs[0].Nodes[0].Dimensions)

	assert.Contains(t, out.String(), fmt.Sprintf(`++ Indexing live workspace (starting from path "/sites/s/blog", dimension hash %q)`, hash))
	assert.Contains(t, out.String(), "Number of Nodes to be indexed in workspace 'live': 1")
	assert.Contains(t, out.String(), "Indexing jobs created for queue nodequeue.batch with success ...")
}

func TestBuild_AllWorkspaces(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateWorkspace(ctx, &storage.Workspace{Name: "user-admin", BaseWorkspace: "live"}))
	f.upsert(t, &storage.NodeRecord{Identifier: "a", Path: "/sites/s/a", NodeType: documentType})
	f.upsert(t, &storage.NodeRecord{Identifier: "b", Path: "/sites/s/b", NodeType: documentType, Workspace: "user-admin"})

	p := NewBatchProducer(f.store, f.repo, f.manager, batchQueue, 10)
	result, err := p.Build(ctx, BuildOptions{})
	require.NoError(t, err)
	require.Len(t, result.Workspaces, 2)

	targets := map[string]string{}
	for _, job := range f.drain(t, f.batch) {
		targets[job.Nodes[0].Identifier] = job.TargetWorkspace
	}
	assert.Equal(t, map[string]string{"a": "live", "b": "user-admin"}, targets)
}

func TestBuild_EmptyWorkspace(t *testing.T) {
	f := setupFixture(t)
	p := NewBatchProducer(f.store, f.repo, f.manager, batchQueue, 10)
	result, err := p.Build(context.Background(), BuildOptions{Workspace: "live"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Jobs())
	assert.Empty(t, f.drain(t, f.batch))
}

func TestBuild_UnknownQueue(t *testing.T) {
	f := setupFixture(t)
	p := NewBatchProducer(f.store, f.repo, f.manager, "missing", 10)
	_, err := p.Build(context.Background(), BuildOptions{Workspace: "live"})
	assert.Error(t, err)
}
