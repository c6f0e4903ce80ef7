package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/nodequeue/internal/content"
	"github.com/dshills/nodequeue/internal/dimension"
	"github.com/dshills/nodequeue/internal/metrics"
	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

// TitleProperty names the property used as document title
const TitleProperty = "title"

// Sink receives indexing operations. Writes are buffered until Flush.
type Sink interface {
	Put(ctx context.Context, node *content.Node, workspace string, allDimensions bool) error
	Remove(ctx context.Context, ref types.NodeRef, workspace string) error
	Flush(ctx context.Context) error
}

// TxBeginner opens document store transactions
type TxBeginner interface {
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// pendingOp is a buffered document write or removal
type pendingOp struct {
	doc *storage.Document

	// removal
	identifier     string
	workspace      string
	dimensionsHash string
}

// DocumentSink writes search documents into the document store
type DocumentSink struct {
	store    TxBeginner
	repo     *content.Repository
	resolver *dimension.Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	pending []pendingOp
}

// NewDocumentSink creates a sink. metrics may be nil.
func NewDocumentSink(store TxBeginner, repo *content.Repository, resolver *dimension.Resolver, mt *metrics.Metrics, logger *slog.Logger) *DocumentSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentSink{
		store:    store,
		repo:     repo,
		resolver: resolver,
		metrics:  mt,
		logger:   logger,
	}
}

// Put buffers the document of a fulltext root. An empty workspace means the
// workspace of the node's context. With allDimensions the node is looked up
// and indexed under every allowed dimension combination.
func (s *DocumentSink) Put(ctx context.Context, node *content.Node, workspace string, allDimensions bool) error {
	if workspace == "" {
		workspace = node.Context().Workspace
	}

	nodes := []*content.Node{node}
	if allDimensions {
		variants, err := s.variants(ctx, node, workspace)
		if err != nil {
			return err
		}
		if len(variants) > 0 {
			nodes = variants
		}
	}

	ops := make([]pendingOp, 0, len(nodes))
	for _, n := range nodes {
		doc, err := s.buildDocument(ctx, n, workspace)
		if err != nil {
			return err
		}
		ops = append(ops, pendingOp{doc: doc})
	}

	s.mu.Lock()
	s.pending = append(s.pending, ops...)
	s.mu.Unlock()
	return nil
}

// Remove buffers the removal of the document addressed by the ref. The ref is
// never re-resolved, so removal sentinels work like any other ref.
func (s *DocumentSink) Remove(ctx context.Context, ref types.NodeRef, workspace string) error {
	if workspace == "" {
		workspace = ref.Workspace
	}
	if ref.Identifier == "" || workspace == "" {
		return fmt.Errorf("%w: removal needs identifier and workspace", types.ErrInvalidNodeRef)
	}

	s.mu.Lock()
	s.pending = append(s.pending, pendingOp{
		identifier:     ref.Identifier,
		workspace:      workspace,
		dimensionsHash: ref.Dimensions.TargetHash(),
	})
	s.mu.Unlock()
	return nil
}

// Flush writes all buffered operations in one transaction
func (s *DocumentSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	indexed, removed := 0, 0
	for _, op := range ops {
		if op.doc != nil {
			if err = tx.UpsertDocument(ctx, op.doc); err != nil {
				return err
			}
			indexed++
			continue
		}
		var n int
		if n, err = tx.DeleteDocuments(ctx, op.identifier, op.workspace, op.dimensionsHash); err != nil {
			return err
		}
		removed += n
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit documents: %w", err)
	}

	s.metrics.AddNodesIndexed(indexed)
	s.metrics.AddNodesRemoved(removed)
	s.logger.Debug("flushed documents", "indexed", indexed, "removed", removed)
	return nil
}

// Pending returns the number of buffered operations
func (s *DocumentSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// variants resolves the node under every allowed dimension combination
func (s *DocumentSink) variants(ctx context.Context, node *content.Node, workspace string) ([]*content.Node, error) {
	combinations := s.resolver.AllowedCombinations()
	nodes := make([]*content.Node, 0, len(combinations))
	seen := make(map[string]bool, len(combinations))
	for _, combination := range combinations {
		cc := content.Context{
			Workspace:             workspace,
			Dimensions:            combination,
			InvisibleContentShown: true,
		}
		variant, err := s.repo.NodeByIdentifier(ctx, cc, node.Identifier())
		if err != nil {
			return nil, err
		}
		if variant == nil {
			continue
		}
		// Fallbacks can make two combinations resolve the same document
		hash := variant.Dimensions().TargetHash()
		if seen[hash] {
			continue
		}
		seen[hash] = true
		nodes = append(nodes, variant)
	}
	return nodes, nil
}

// buildDocument aggregates the text of a fulltext root and its descendants,
// leaving out nested fulltext roots and everything below them.
func (s *DocumentSink) buildDocument(ctx context.Context, node *content.Node, workspace string) (*storage.Document, error) {
	descendants, err := s.repo.Descendants(ctx, node)
	if err != nil {
		return nil, err
	}

	var body strings.Builder
	appendText(&body, node.Properties(), true)

	var nested []string
	for _, d := range descendants {
		if underAny(d.Path(), nested) {
			continue
		}
		if s.repo.IsFulltextRoot(d) {
			nested = append(nested, d.Path())
			continue
		}
		appendText(&body, d.Properties(), false)
	}

	title := node.Property(TitleProperty)
	if title == "" {
		title = node.Name()
	}

	dims := node.Dimensions()
	return &storage.Document{
		Identifier:     node.Identifier(),
		Workspace:      workspace,
		DimensionsHash: dims.TargetHash(),
		Dimensions:     dims.Clone(),
		NodeType:       node.NodeType(),
		Path:           node.Path(),
		Title:          title,
		Body:           strings.TrimSpace(body.String()),
	}, nil
}

func appendText(b *strings.Builder, properties map[string]string, skipTitle bool) {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		if skipTitle && k == TitleProperty {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(properties[k]); v != "" {
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
}

func underAny(p string, roots []string) bool {
	for _, root := range roots {
		if strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}
