package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/queue"
	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

func TestIndexJob_SkipsMissingNodeAndFlushesOnce(t *testing.T) {
	f := setupFixture(t)
	sink := new(MockSink)
	sink.On("Flush", mock.Anything).Return(nil).Once()

	job := NewIndexJob("", types.NodeRef{PersistentID: "gone", Identifier: "X", Dimensions: types.DimensionValues{"lang": {"en"}}, Workspace: "live"})
	job.exec = NewExecutor(f.repo, sink, nil, logging.Discard())

	require.NoError(t, job.Execute(context.Background(), nil, nil))
	sink.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sink.AssertNumberOfCalls(t, "Flush", 1)
}

func TestIndexJob_IndexesInJobDimensionOnly(t *testing.T) {
	f := setupFixture(t, mutualLanguages())
	record := f.upsert(t, &storage.NodeRecord{Identifier: "page", Path: "/sites/s/page", NodeType: documentType, Dimensions: lang("de")})

	sink := new(MockSink)
	sink.On("Put", mock.Anything, mock.MatchedBy(func(n *content.Node) bool {
		return n.Identifier() == "page" && n.Context().InvisibleContentShown && !n.Context().InaccessibleContentShown &&
			n.Context().Workspace == "live" && n.Dimensions().Equal(lang("de", "en"))
	}), "", false).Return(nil).Once()
	sink.On("Flush", mock.Anything).Return(nil).Once()

	job := NewIndexJob("", types.NodeRef{PersistentID: record.PersistentID, Identifier: "page", Dimensions: lang("de", "en"), Workspace: "live"})
	job.exec = NewExecutor(f.repo, sink, nil, logging.Discard())

	require.NoError(t, job.Execute(context.Background(), nil, nil))
	sink.AssertExpectations(t)
}

func TestIndexJob_TargetWorkspaceOverridesRecord(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateWorkspace(ctx, &storage.Workspace{Name: "stage", BaseWorkspace: "live"}))
	record := f.upsert(t, &storage.NodeRecord{Identifier: "page", Path: "/sites/s/page", NodeType: documentType})

	sink := new(MockSink)
	sink.On("Put", mock.Anything, mock.MatchedBy(func(n *content.Node) bool {
		return n.Context().Workspace == "stage"
	}), "stage", false).Return(nil).Once()
	sink.On("Flush", mock.Anything).Return(nil).Once()

	job := NewIndexJob("stage", types.NodeRef{PersistentID: record.PersistentID, Identifier: "page", Workspace: "live"})
	job.exec = NewExecutor(f.repo, sink, nil, logging.Discard())

	require.NoError(t, job.Execute(ctx, nil, nil))
	sink.AssertExpectations(t)
}

func TestIndexJob_SkipsRemovedRecord(t *testing.T) {
	f := setupFixture(t)
	record := f.upsert(t, &storage.NodeRecord{Identifier: "page", Path: "/sites/s/page", NodeType: documentType, Removed: true})

	sink := new(MockSink)
	sink.On("Flush", mock.Anything).Return(nil).Once()

	job := NewIndexJob("", types.NodeRef{PersistentID: record.PersistentID, Identifier: "page", Workspace: "live"})
	job.exec = NewExecutor(f.repo, sink, nil, logging.Discard())

	require.NoError(t, job.Execute(context.Background(), nil, nil))
	sink.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIndexJob_FlushErrorFailsJob(t *testing.T) {
	f := setupFixture(t)
	sink := new(MockSink)
	sink.On("Flush", mock.Anything).Return(errors.New("disk full"))

	job := NewIndexJob("")
	job.exec = NewExecutor(f.repo, sink, nil, logging.Discard())

	err := job.Execute(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestIndexJob_EndToEnd(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	record := f.upsert(t, &storage.NodeRecord{Identifier: "page", Path: "/sites/s/page", NodeType: documentType,
		Properties: map[string]string{"title": "Queue basics"}})

	job := NewIndexJob("", types.NodeRef{PersistentID: record.PersistentID, Identifier: "page", Workspace: "live"})
	job.exec = NewExecutor(f.repo, f.sink, nil, logging.Discard())
	require.NoError(t, job.Execute(ctx, nil, nil))

	results, err := f.store.SearchDocuments(ctx, storage.DocumentQuery{Query: "queue", Workspace: "live"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "page", results[0].Document.Identifier)
}

func TestIndexJob_RereadsRecordsPerJob(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	record := f.upsert(t, &storage.NodeRecord{Identifier: "page", Path: "/sites/s/page", NodeType: documentType,
		Properties: map[string]string{"title": "Menu", "text": "filter coffee"}})
	exec := NewExecutor(f.repo, f.sink, nil, logging.Discard())
	ref := types.NodeRef{PersistentID: record.PersistentID, Identifier: "page", Workspace: "live"}

	first := NewIndexJob("", ref)
	first.exec = exec
	require.NoError(t, first.Execute(ctx, nil, nil))

	record.Properties["text"] = "cold brew"
	require.NoError(t, f.store.UpsertNode(ctx, record))

	second := NewIndexJob("", ref)
	second.exec = exec
	require.NoError(t, second.Execute(ctx, nil, nil))

	results, err := f.store.SearchDocuments(ctx, storage.DocumentQuery{Query: "brew", Workspace: "live"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRemovalJob_RemovesWithoutRefetch(t *testing.T) {
	f := setupFixture(t)
	ref := types.NodeRef{PersistentID: types.RemovedPersistentID, Identifier: "page", Workspace: "live", Dimensions: lang("de")}

	sink := new(MockSink)
	sink.On("Remove", mock.Anything, ref, "").Return(nil).Once()
	sink.On("Flush", mock.Anything).Return(nil).Once()

	job := NewRemovalJob("", ref)
	job.exec = NewExecutor(f.repo, sink, nil, logging.Discard())

	require.NoError(t, job.Execute(context.Background(), nil, nil))
	sink.AssertExpectations(t)
}

func TestRemovalJob_Empty(t *testing.T) {
	f := setupFixture(t)
	job := NewRemovalJob("")
	job.exec = NewExecutor(f.repo, new(MockSink), nil, logging.Discard())
	assert.ErrorIs(t, job.Execute(context.Background(), nil, nil), types.ErrEmptyJob)
}

func TestRegisterJobs_BindsExecutor(t *testing.T) {
	f := setupFixture(t)
	codec, err := queue.NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()
	exec := NewExecutor(f.repo, f.sink, nil, logging.Discard())
	RegisterJobs(codec, exec)

	original := NewRemovalJob("stage", types.NodeRef{PersistentID: "p1", Identifier: "page", Workspace: "live", Dimensions: lang("en")})
	payload, err := codec.Encode(original)
	require.NoError(t, err)

	var env struct {
		Type string          `json:"type"`
		Job  json.RawMessage `json:"job"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, RemovalJobType, env.Type)
	assert.Contains(t, string(env.Job), `"persistenceObjectIdentifier":"p1"`)

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	removal, ok := decoded.(*RemovalJob)
	require.True(t, ok)
	assert.Equal(t, original.ID, removal.Identifier())
	assert.Equal(t, "stage", removal.TargetWorkspace)
	assert.Same(t, exec, removal.exec)
	assert.Contains(t, removal.Label(), original.ID)
}

func TestJobs_WithoutExecutor(t *testing.T) {
	assert.Error(t, NewIndexJob("").Execute(context.Background(), nil, nil))
	assert.Error(t, NewRemovalJob("").Execute(context.Background(), nil, nil))
}
