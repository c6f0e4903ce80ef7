package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/metrics"
	"github.com/dshills/nodequeue/internal/queue"
	"github.com/dshills/nodequeue/pkg/types"
)

// Job types on the wire
const (
	IndexJobType   = "index"
	RemovalJobType = "removal"
)

// Skip reasons reported to metrics
const (
	skipMissing    = "missing"
	skipInvisible  = "invisible"
	skipInvalidRef = "invalid_ref"
)

// Executor holds what jobs need at execution time
type Executor struct {
	repo    *content.Repository
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewExecutor creates an executor. mt may be nil.
func NewExecutor(repo *content.Repository, sink Sink, mt *metrics.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{repo: repo, sink: sink, metrics: mt, logger: logger}
}

// RegisterJobs binds both job types to the executor in the codec
func RegisterJobs(codec *queue.Codec, exec *Executor) {
	codec.Register(IndexJobType, func(data json.RawMessage) (queue.Job, error) {
		job := &IndexJob{}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, fmt.Errorf("invalid index job: %w", err)
		}
		job.exec = exec
		return job, nil
	})
	codec.Register(RemovalJobType, func(data json.RawMessage) (queue.Job, error) {
		job := &RemovalJob{}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, fmt.Errorf("invalid removal job: %w", err)
		}
		job.exec = exec
		return job, nil
	})
}

// IndexJob indexes a batch of nodes
type IndexJob struct {
	ID              string          `json:"identifier"`
	TargetWorkspace string          `json:"targetWorkspace,omitempty"`
	Nodes           []types.NodeRef `json:"nodes"`

	exec *Executor
}

// NewIndexJob creates a job with a random identifier
func NewIndexJob(targetWorkspace string, nodes ...types.NodeRef) *IndexJob {
	return &IndexJob{ID: uuid.NewString(), TargetWorkspace: targetWorkspace, Nodes: nodes}
}

func (j *IndexJob) Type() string       { return IndexJobType }
func (j *IndexJob) Identifier() string { return j.ID }

func (j *IndexJob) Label() string {
	return fmt.Sprintf("Indexing Job (%s)", j.ID)
}

// Execute re-fetches every node and hands it to the sink in the job's
// dimension only. Nodes that vanished since enqueue are skipped.
func (j *IndexJob) Execute(ctx context.Context, q queue.Queue, msg *queue.Message) error {
	if j.exec == nil {
		return fmt.Errorf("index job %s has no executor", j.ID)
	}
	e := j.exec
	logger := e.logger.With("job", j.ID)
	start := time.Now()
	// Records are re-read per job so long-running workers see later edits
	defer e.repo.ClearState()

	indexed := 0
	for _, ref := range j.Nodes {
		if ref.IsRemovalSentinel() {
			logger.Warn("removal sentinel in index job", "node", ref.Identifier)
			e.metrics.IncNodesSkipped(skipInvalidRef)
			continue
		}

		record, err := e.repo.Record(ctx, ref.PersistentID)
		if content.IsNotFound(err) {
			logger.Info(fmt.Sprintf("Node data of node %s could not be loaded. Node might be deleted.", ref.Identifier))
			e.metrics.IncNodesSkipped(skipMissing)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load node %s: %w", ref.Identifier, err)
		}

		workspace := j.TargetWorkspace
		if workspace == "" {
			workspace = record.Workspace
		}
		cc := content.Context{
			Workspace:             workspace,
			Dimensions:            ref.Dimensions,
			InvisibleContentShown: true,
		}
		node := e.repo.NodeFromRecord(record, cc)
		if node == nil {
			logger.Warn(fmt.Sprintf("Node %s could not be created from node data", ref.Identifier))
			e.metrics.IncNodesSkipped(skipInvisible)
			continue
		}

		if err := e.sink.Put(ctx, node, j.TargetWorkspace, false); err != nil {
			return err
		}
		indexed++
	}

	if err := e.sink.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush index: %w", err)
	}

	duration := time.Since(start).Seconds()
	rate := 0.0
	if duration > 0 {
		rate = float64(indexed) / duration
	}
	e.metrics.SetIndexThroughput(rate)
	logger.Info(fmt.Sprintf("Indexed %d nodes in %.3f seconds (%.1f nodes per second)", indexed, duration, rate))
	return nil
}

// RemovalJob removes the documents of a batch of nodes
type RemovalJob struct {
	ID              string          `json:"identifier"`
	TargetWorkspace string          `json:"targetWorkspace,omitempty"`
	Nodes           []types.NodeRef `json:"nodes"`

	exec *Executor
}

// NewRemovalJob creates a job with a random identifier
func NewRemovalJob(targetWorkspace string, nodes ...types.NodeRef) *RemovalJob {
	return &RemovalJob{ID: uuid.NewString(), TargetWorkspace: targetWorkspace, Nodes: nodes}
}

func (j *RemovalJob) Type() string       { return RemovalJobType }
func (j *RemovalJob) Identifier() string { return j.ID }

func (j *RemovalJob) Label() string {
	return fmt.Sprintf("Removal Job (%s)", j.ID)
}

// Execute removes each ref by identifier and dimensions. Refs are never
// re-fetched.
func (j *RemovalJob) Execute(ctx context.Context, q queue.Queue, msg *queue.Message) error {
	if j.exec == nil {
		return fmt.Errorf("removal job %s has no executor", j.ID)
	}
	if len(j.Nodes) == 0 {
		return types.ErrEmptyJob
	}
	e := j.exec

	for _, ref := range j.Nodes {
		if err := e.sink.Remove(ctx, ref, j.TargetWorkspace); err != nil {
			return err
		}
	}
	if err := e.sink.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush index: %w", err)
	}
	e.logger.Info("removed nodes", "job", j.ID, "nodes", len(j.Nodes))
	return nil
}
