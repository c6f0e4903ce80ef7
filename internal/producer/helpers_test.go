package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/internal/indexer"
	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/queue"
	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

const (
	documentType = "Neos.Neos:Document"
	textType     = "Neos.Neos:Text"
	batchQueue   = "nodequeue.batch"
	liveQueue    = "nodequeue.live"
)

type fixture struct {
	store    *storage.SQLiteStorage
	repo     *content.Repository
	resolver *dimension.Resolver
	codec    *queue.Codec
	manager  *queue.Manager
	batch    *queue.SQLiteQueue
	live     *queue.SQLiteQueue
}

func setupFixture(t *testing.T, axes ...dimension.Axis) *fixture {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo, err := content.NewRepository(store, []string{documentType})
	require.NoError(t, err)
	resolver, err := dimension.NewResolver("language", axes)
	require.NoError(t, err)

	codec, err := queue.NewCodec(0)
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	sink := indexer.NewDocumentSink(store, repo, resolver, nil, logging.Discard())
	indexer.RegisterJobs(codec, indexer.NewExecutor(repo, sink, nil, logging.Discard()))

	batch := queue.NewSQLiteQueue(batchQueue, store, queue.WithPollInterval(time.Millisecond))
	live := queue.NewSQLiteQueue(liveQueue, store, queue.WithPollInterval(time.Millisecond))
	manager := queue.NewManager(codec, []queue.Queue{batch, live}, queue.WithLogger(logging.Discard()))

	return &fixture{store: store, repo: repo, resolver: resolver, codec: codec, manager: manager, batch: batch, live: live}
}

func mutualLanguages() dimension.Axis {
	return dimension.Axis{Name: "language", Presets: []dimension.Preset{
		{Name: "en", Values: []string{"en", "de"}},
		{Name: "de", Values: []string{"de", "en"}},
	}}
}

func lang(values ...string) types.DimensionValues {
	return types.DimensionValues{"language": values}
}

func (f *fixture) upsert(t *testing.T, record *storage.NodeRecord) *storage.NodeRecord {
	if record.NodeType == "" {
		record.NodeType = textType
	}
	if record.Workspace == "" {
		record.Workspace = "live"
	}
	require.NoError(t, f.store.UpsertNode(context.Background(), record))
	return record
}

// drain reserves and finishes every ready message and returns the decoded index jobs in queue order
func (f *fixture) drain(t *testing.T, q queue.Queue) []*indexer.IndexJob {
	ctx := context.Background()
	var jobs []*indexer.IndexJob
	for {
		msg, err := q.WaitAndReserve(ctx, time.Millisecond)
		require.NoError(t, err)
		if msg == nil {
			return jobs
		}
		job, err := f.codec.Decode(msg.Payload)
		require.NoError(t, err)
		indexJob, ok := job.(*indexer.IndexJob)
		require.True(t, ok)
		jobs = append(jobs, indexJob)
		require.NoError(t, q.Finish(ctx, msg.ID))
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}
