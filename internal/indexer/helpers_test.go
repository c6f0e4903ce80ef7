package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/queue"
	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

const (
	documentType = "Neos.Neos:Document"
	textType     = "Neos.Neos:Text"
)

type fixture struct {
	store    *storage.SQLiteStorage
	repo     *content.Repository
	resolver *dimension.Resolver
	sink     *DocumentSink
}

func setupFixture(t *testing.T, axes ...dimension.Axis) *fixture {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo, err := content.NewRepository(store, []string{documentType})
	require.NoError(t, err)
	resolver, err := dimension.NewResolver("language", axes)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		repo:     repo,
		resolver: resolver,
		sink:     NewDocumentSink(store, repo, resolver, nil, logging.Discard()),
	}
}

// mutualLanguages lets en and de fall back to each other
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

func (f *fixture) node(t *testing.T, identifier string, dims types.DimensionValues) *content.Node {
	n, err := f.repo.NodeByIdentifier(context.Background(),
		content.Context{Workspace: "live", Dimensions: dims, InvisibleContentShown: true, RemovedContentShown: true}, identifier)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

// MockSink records sink calls
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Put(ctx context.Context, node *content.Node, workspace string, allDimensions bool) error {
	args := m.Called(ctx, node, workspace, allDimensions)
	return args.Error(0)
}

func (m *MockSink) Remove(ctx context.Context, ref types.NodeRef, workspace string) error {
	args := m.Called(ctx, ref, workspace)
	return args.Error(0)
}

func (m *MockSink) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockEnqueuer captures queued jobs
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Queue(ctx context.Context, queueName string, job queue.Job) (string, error) {
	args := m.Called(ctx, queueName, job)
	return args.String(0), args.Error(1)
}

// MockIndexer records delegated calls
type MockIndexer struct {
	mock.Mock
}

func (m *MockIndexer) Index(ctx context.Context, node *content.Node, targetWorkspace string) error {
	return m.Called(ctx, node, targetWorkspace).Error(0)
}

func (m *MockIndexer) Remove(ctx context.Context, node *content.Node, targetWorkspace string) error {
	return m.Called(ctx, node, targetWorkspace).Error(0)
}
