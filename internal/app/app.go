package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/nodequeue/internal/config"
	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/internal/indexer"
	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/metrics"
	"github.com/dshills/nodequeue/internal/queue"
	"github.com/dshills/nodequeue/internal/searcher"
	"github.com/dshills/nodequeue/internal/storage"
)

// App holds the wired collaborators of one process
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *storage.SQLiteStorage
	Repo     *content.Repository
	Resolver *dimension.Resolver
	Codec    *queue.Codec
	Manager  *queue.Manager
	Metrics  *metrics.Metrics
	Sink     *indexer.DocumentSink
	Indexer  indexer.Indexer
	Searcher *searcher.Searcher

	nc *nats.Conn
}

// New opens the store, builds the queues and registers the job types.
// reg may be nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New(reg)}

	store, err := storage.NewSQLiteStorage(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.Store = store

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	resolver, err := dimension.NewResolver(cfg.Dimensions.Primary, cfg.Dimensions.Axes)
	if err != nil {
		return fmt.Errorf("invalid dimension configuration: %w", err)
	}
	a.Resolver = resolver

	repo, err := content.NewRepository(a.Store, cfg.FulltextRootNodeTypes)
	if err != nil {
		return err
	}
	a.Repo = repo

	codec, err := queue.NewCodec(cfg.Queue.CompressThreshold)
	if err != nil {
		return err
	}
	a.Codec = codec

	queues, err := a.openQueues(ctx)
	if err != nil {
		return err
	}
	a.Manager = queue.NewManager(codec, queues,
		queue.WithMaxReleases(cfg.Queue.MaxReleases),
		queue.WithMetrics(a.Metrics),
		queue.WithLogger(logging.Component(a.Logger, "queue")),
	)

	a.Sink = indexer.NewDocumentSink(a.Store, repo, resolver, a.Metrics, logging.Component(a.Logger, "sink"))
	indexer.RegisterJobs(codec, indexer.NewExecutor(repo, a.Sink, a.Metrics, logging.Component(a.Logger, "executor")))

	a.Indexer = indexer.NewAsyncIndexer(
		indexer.NewSyncIndexer(a.Sink),
		a.Manager,
		indexer.NewRemovalPlanner(repo, resolver),
		indexer.AsyncOptions{
			Enabled:            cfg.LiveAsyncIndexing,
			IndexAllWorkspaces: cfg.IndexAllWorkspaces,
			QueueName:          cfg.Queue.LiveName,
		},
		logging.Component(a.Logger, "indexer"),
	)
	a.Searcher = searcher.NewSearcher(a.Store)
	return nil
}

func (a *App) openQueues(ctx context.Context) ([]queue.Queue, error) {
	cfg := a.Config.Queue
	names := []string{cfg.BatchName, cfg.LiveName}
	queues := make([]queue.Queue, 0, len(names))

	switch cfg.Backend {
	case config.BackendNATS:
		nc, err := queue.Connect(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.nc = nc
		for _, name := range names {
			q, err := queue.NewJetStreamQueue(ctx, nc, name, cfg.VisibilityTimeout)
			if err != nil {
				return nil, err
			}
			queues = append(queues, q)
		}
	default:
		for _, name := range names {
			queues = append(queues, queue.NewSQLiteQueue(name, a.Store,
				queue.WithPollInterval(cfg.PollInterval),
				queue.WithVisibilityTimeout(cfg.VisibilityTimeout),
			))
		}
	}
	return queues, nil
}

// QueueName maps the --queue flag value to a configured queue
func (a *App) QueueName(flag string) (string, error) {
	switch flag {
	case "batch":
		return a.Config.Queue.BatchName, nil
	case "live":
		return a.Config.Queue.LiveName, nil
	}
	if _, err := a.Manager.GetQueue(flag); err != nil {
		return "", fmt.Errorf("invalid queue %q, expected batch or live: %w", flag, err)
	}
	return flag, nil
}

// Close releases the NATS connection, the codec and the database
func (a *App) Close() error {
	if a.nc != nil {
		a.nc.Close()
	}
	if a.Codec != nil {
		a.Codec.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
