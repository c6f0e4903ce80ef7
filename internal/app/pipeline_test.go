package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/dshills/nodequeue/internal/config"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/producer"
	"github.com/dshills/nodequeue/internal/searcher"
	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/internal/worker"
	"github.com/dshills/nodequeue/pkg/types"
)

// PipelineTestSuite drives producers, queues, workers and search against one
// in-memory content repository with a language dimension.
type PipelineTestSuite struct {
	suite.Suite
	app *App
	ctx context.Context
}

func (s *PipelineTestSuite) SetupTest() {
	s.ctx = context.Background()

	cfg := config.Default()
	cfg.Database = ":memory:"
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.LiveAsyncIndexing = true
	cfg.Dimensions.Axes = []dimension.Axis{{
		Name: "language",
		Presets: []dimension.Preset{
			{Name: "en", Values: []string{"en"}},
			{Name: "de", Values: []string{"de", "en"}},
		},
	}}

	a, err := New(s.ctx, cfg, logging.Discard(), prometheus.NewRegistry())
	s.Require().NoError(err)
	s.app = a
}

func (s *PipelineTestSuite) TearDownTest() {
	if s.app != nil {
		s.NoError(s.app.Close())
	}
}

func (s *PipelineTestSuite) seed(language, title, text string, modified time.Time) *storage.NodeRecord {
	record := &storage.NodeRecord{
		Identifier:   "home",
		Workspace:    "live",
		Path:         "/sites/s",
		NodeType:     "Neos.Neos:Document",
		Dimensions:   types.DimensionValues{"language": {language}},
		Properties:   map[string]string{"title": title, "text": text},
		LastModified: &modified,
	}
	s.Require().NoError(s.app.Store.UpsertNode(s.ctx, record))
	return record
}

func (s *PipelineTestSuite) work(queueName string, limit int) *worker.Stats {
	stats, err := worker.New(s.app.Manager, queueName, worker.Options{
		Limit:  limit,
		Logger: logging.Discard(),
	}).Run(s.ctx)
	s.Require().NoError(err)
	return stats
}

func (s *PipelineTestSuite) search(query, language string) []searcher.Result {
	resp, err := s.app.Searcher.Search(s.ctx, searcher.SearchRequest{
		Query:      query,
		Dimensions: types.DimensionValues{"language": {language}},
	})
	s.Require().NoError(err)
	return resp.Results
}

func (s *PipelineTestSuite) reindex() {
	result, err := s.app.BatchProducer(io.Discard).Build(s.ctx, producer.BuildOptions{Workspace: "live"})
	s.Require().NoError(err)
	s.Equal(2, result.Nodes())

	stats := s.work(s.app.Config.Queue.BatchName, 1)
	s.Equal(1, stats.Succeeded)
}

func (s *PipelineTestSuite) TestFullReindexPerLanguage() {
	now := time.Now()
	s.seed("en", "Home", "Fresh coffee every morning", now)
	s.seed("de", "Startseite", "Frischer Kaffee jeden Morgen", now)

	s.reindex()

	n, err := s.app.Store.CountDocuments(s.ctx, "live")
	s.Require().NoError(err)
	s.Equal(2, n)

	results := s.search("kaffee", "de")
	s.Require().Len(results, 1)
	s.Equal("Startseite", results[0].Title)
	s.Empty(s.search("kaffee", "en"))
	s.Len(s.search("coffee", "en"), 1)
}

func (s *PipelineTestSuite) TestIncrementalChangeReachesLiveQueue() {
	before := time.Now().Add(-time.Minute)
	en := s.seed("en", "Home", "Fresh coffee every morning", before)
	s.seed("de", "Startseite", "Frischer Kaffee jeden Morgen", before)

	changes := s.app.IncrementalProducer(io.Discard)
	first, err := changes.RunOnce(s.ctx, "live", 0)
	s.Require().NoError(err)
	s.True(first.Bootstrapped)

	modified := time.Now().Add(time.Second)
	en.Properties["text"] = "Single origin espresso"
	en.LastModified = &modified
	s.Require().NoError(s.app.Store.UpsertNode(s.ctx, en))

	second, err := changes.RunOnce(s.ctx, "live", 0)
	s.Require().NoError(err)
	s.Equal(1, second.Changed)
	s.Equal(1, second.Queued)

	live, err := s.app.QueueStatus(s.ctx, s.app.Config.Queue.LiveName)
	s.Require().NoError(err)
	s.Equal(1, live.Pending)
	batch, err := s.app.QueueStatus(s.ctx, s.app.Config.Queue.BatchName)
	s.Require().NoError(err)
	s.Zero(batch.Pending)

	stats := s.work(s.app.Config.Queue.LiveName, 1)
	s.Equal(1, stats.Succeeded)

	results := s.search("espresso", "en")
	s.Require().Len(results, 1)
	s.Equal("home", results[0].Identifier)
	s.Empty(s.search("espresso", "de"))
}

func (s *PipelineTestSuite) TestRemovedVariantKeepsOtherLanguages() {
	now := time.Now()
	s.seed("en", "Home", "Fresh coffee every morning", now)
	de := s.seed("de", "Startseite", "Frischer Kaffee jeden Morgen", now)
	s.reindex()

	de.Removed = true
	s.Require().NoError(s.app.Store.UpsertNode(s.ctx, de))

	node, err := s.app.IndexNode(s.ctx, "home", "live", types.DimensionValues{"language": {"de", "en"}}, "")
	s.Require().NoError(err)
	s.True(node.IsRemoved())

	live, err := s.app.QueueStatus(s.ctx, s.app.Config.Queue.LiveName)
	s.Require().NoError(err)
	s.Equal(1, live.Pending, "only the German variant is scheduled for removal")

	stats := s.work(s.app.Config.Queue.LiveName, 1)
	s.Equal(1, stats.Succeeded)
	s.app.Searcher.InvalidateCache()

	n, err := s.app.Store.CountDocuments(s.ctx, "live")
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Empty(s.search("kaffee", "de"))
	s.Len(s.search("coffee", "en"), 1)
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}
