package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/producer"
	"github.com/dshills/nodequeue/pkg/types"
)

// ErrNodeNotFound is returned when no variant of a node is visible
var ErrNodeNotFound = errors.New("node not found")

// QueueStatus holds the per-state job counts of one queue
type QueueStatus struct {
	Name     string `json:"name"`
	Pending  int    `json:"pending"`
	Reserved int    `json:"reserved"`
	Failed   int    `json:"failed"`
}

// QueueStatus counts the jobs of a queue and records them as gauges
func (a *App) QueueStatus(ctx context.Context, name string) (*QueueStatus, error) {
	q, err := a.Manager.GetQueue(name)
	if err != nil {
		return nil, err
	}
	status := &QueueStatus{Name: name}
	if status.Pending, err = q.CountReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	if status.Reserved, err = q.CountReserved(ctx); err != nil {
		return nil, fmt.Errorf("failed to count reserved jobs: %w", err)
	}
	if status.Failed, err = q.CountFailed(ctx); err != nil {
		return nil, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	a.Metrics.SetQueueJobs(name, status.Pending, status.Reserved, status.Failed)
	return status, nil
}

// FlushQueue drops every job of a queue
func (a *App) FlushQueue(ctx context.Context, name string) error {
	q, err := a.Manager.GetQueue(name)
	if err != nil {
		return err
	}
	if err := q.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", name, err)
	}
	a.Logger.Info("queue flushed", "queue", name)
	return nil
}

// IndexNode resolves a node in workspace and dims and hands it to the
// indexer. Removed nodes are routed to removal. An empty target indexes into
// the node's own workspace.
func (a *App) IndexNode(ctx context.Context, identifier, workspace string, dims types.DimensionValues, target string) (*content.Node, error) {
	if workspace == "" {
		workspace = "live"
	}
	cc := content.Context{
		Workspace:             workspace,
		Dimensions:            dims,
		InvisibleContentShown: true,
		RemovedContentShown:   true,
	}
	node, err := a.Repo.NodeByIdentifier(ctx, cc, identifier)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s in %s %s", ErrNodeNotFound, identifier, workspace, dims)
	}
	if target == "" {
		target = workspace
	}
	if err := a.Indexer.Index(ctx, node, target); err != nil {
		return nil, err
	}
	if !a.Config.LiveAsyncIndexing {
		a.Searcher.InvalidateCache()
	}
	return node, nil
}

// BatchProducer returns a full-reindex producer on the batch queue
func (a *App) BatchProducer(out io.Writer) *producer.BatchProducer {
	return producer.NewBatchProducer(a.Store, a.Repo, a.Manager, a.Config.Queue.BatchName, a.Config.BatchSize,
		producer.WithOutput(out),
		producer.WithLogger(logging.Component(a.Logger, "batch")),
		producer.WithMetrics(a.Metrics),
	)
}

// IncrementalProducer returns a change-driven producer on the live queue
func (a *App) IncrementalProducer(out io.Writer) *producer.IncrementalProducer {
	return producer.NewIncrementalProducer(a.Store, a.Store, a.Repo, a.Resolver, a.Manager, a.Config.Queue.LiveName,
		producer.WithOutput(out),
		producer.WithLogger(logging.Component(a.Logger, "incremental")),
		producer.WithMetrics(a.Metrics),
	)
}

// ServeMetrics exposes the Prometheus registry until ctx is done.
// Returns immediately when metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("metrics endpoint listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
