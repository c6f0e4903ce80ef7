package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/nodequeue/internal/storage"
)

// DefaultCacheSize bounds the workspace chain and record caches
const DefaultCacheSize = 1024

// Repository resolves node records into context-bound nodes
type Repository struct {
	store         storage.ContentStore
	fulltextRoots map[string]bool
	chains        *lru.Cache[string, []string]
	records       *lru.Cache[string, *storage.NodeRecord]
}

// NewRepository creates a repository over a content store. fulltextRootTypes
// lists the node types that form their own search document.
func NewRepository(store storage.ContentStore, fulltextRootTypes []string) (*Repository, error) {
	chains, err := lru.New[string, []string](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace cache: %w", err)
	}
	records, err := lru.New[string, *storage.NodeRecord](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	roots := make(map[string]bool, len(fulltextRootTypes))
	for _, t := range fulltextRootTypes {
		roots[t] = true
	}

	return &Repository{
		store:         store,
		fulltextRoots: roots,
		chains:        chains,
		records:       records,
	}, nil
}

// FulltextRootTypes returns the configured fulltext root node types, sorted
func (r *Repository) FulltextRootTypes() []string {
	types := make([]string, 0, len(r.fulltextRoots))
	for t := range r.fulltextRoots {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsFulltextRoot reports whether the node forms its own search document
func (r *Repository) IsFulltextRoot(node *Node) bool {
	return r.fulltextRoots[node.NodeType()]
}

// ClearState drops every cached record and workspace chain. The batch producer
// calls it between pages to keep memory bounded on large trees.
func (r *Repository) ClearState() {
	r.chains.Purge()
	r.records.Purge()
}

// Workspaces returns the names of all workspaces
func (r *Repository) Workspaces(ctx context.Context) ([]string, error) {
	workspaces, err := r.store.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	names := make([]string, len(workspaces))
	for i, ws := range workspaces {
		names[i] = ws.Name
	}
	return names, nil
}

// WorkspaceChain returns the workspace followed by its bases, most specific first
func (r *Repository) WorkspaceChain(ctx context.Context, workspace string) ([]string, error) {
	if chain, ok := r.chains.Get(workspace); ok {
		return chain, nil
	}

	chain := make([]string, 0, 2)
	seen := make(map[string]bool)
	for name := workspace; name != ""; {
		if seen[name] {
			return nil, fmt.Errorf("workspace %q has a cyclic base chain", workspace)
		}
		seen[name] = true
		ws, err := r.store.GetWorkspace(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load workspace %q: %w", name, err)
		}
		chain = append(chain, ws.Name)
		name = ws.BaseWorkspace
	}

	r.chains.Add(workspace, chain)
	return chain, nil
}

// Record loads a record by persistent id. Returns storage.ErrNotFound when missing.
func (r *Repository) Record(ctx context.Context, persistentID string) (*storage.NodeRecord, error) {
	if record, ok := r.records.Get(persistentID); ok {
		return record, nil
	}
	record, err := r.store.GetNodeByPersistentID(ctx, persistentID)
	if err != nil {
		return nil, err
	}
	r.records.Add(persistentID, record)
	return record, nil
}

// NodeFromRecord binds a record to a context. Returns nil when the record is
// not visible in that context.
func (r *Repository) NodeFromRecord(record *storage.NodeRecord, cc Context) *Node {
	if record == nil || !cc.Visible(record) {
		return nil
	}
	return &Node{record: record, context: cc}
}

// NodeByIdentifier resolves the best variant of a node in the context, or nil
func (r *Repository) NodeByIdentifier(ctx context.Context, cc Context, identifier string) (*Node, error) {
	chain, err := r.WorkspaceChain(ctx, cc.Workspace)
	if err != nil {
		return nil, err
	}
	variants, err := r.store.FindNodeVariants(ctx, identifier, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants of %s: %w", identifier, err)
	}
	return r.NodeFromRecord(bestVariant(variants, chain, cc), cc), nil
}

// NodeByPath resolves the best variant at a path in the context, or nil
func (r *Repository) NodeByPath(ctx context.Context, cc Context, nodePath string) (*Node, error) {
	chain, err := r.WorkspaceChain(ctx, cc.Workspace)
	if err != nil {
		return nil, err
	}
	variants, err := r.store.FindNodeVariantsByPath(ctx, nodePath, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants at %s: %w", nodePath, err)
	}
	return r.NodeFromRecord(bestVariant(variants, chain, cc), cc), nil
}

// Parent resolves the parent of a node in the node's context, or nil at the root
func (r *Repository) Parent(ctx context.Context, node *Node) (*Node, error) {
	parentPath := node.record.ParentPath
	if parentPath == "" || node.record.Path == "/" {
		return nil, nil
	}
	return r.NodeByPath(ctx, node.context, parentPath)
}

// Descendants returns every visible descendant of a node ordered by path
func (r *Repository) Descendants(ctx context.Context, node *Node) ([]*Node, error) {
	chain, err := r.WorkspaceChain(ctx, node.context.Workspace)
	if err != nil {
		return nil, err
	}
	records, err := r.store.FindDescendantVariants(ctx, node.Path(), chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load descendants of %s: %w", node.Path(), err)
	}

	byIdentifier := make(map[string][]*storage.NodeRecord)
	order := make([]string, 0)
	for _, record := range records {
		if _, ok := byIdentifier[record.Identifier]; !ok {
			order = append(order, record.Identifier)
		}
		byIdentifier[record.Identifier] = append(byIdentifier[record.Identifier], record)
	}

	nodes := make([]*Node, 0, len(order))
	for _, identifier := range order {
		best := bestVariant(byIdentifier[identifier], chain, node.context)
		// The chosen variant may have moved elsewhere in a more specific workspace
		if best == nil || !strings.HasPrefix(best.Path, strings.TrimSuffix(node.Path(), "/")+"/") {
			continue
		}
		if child := r.NodeFromRecord(best, node.context); child != nil {
			nodes = append(nodes, child)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Path() < nodes[j].Path() })
	return nodes, nil
}

// bestVariant picks the record from the most specific workspace, then the one
// with the best dimension fallback position. Records not reachable with the
// context dimensions are ignored.
func bestVariant(records []*storage.NodeRecord, chain []string, cc Context) *storage.NodeRecord {
	var best *storage.NodeRecord
	bestWorkspace := len(chain)
	var bestScore []int

	for _, record := range records {
		wsIndex := indexOf(chain, record.Workspace)
		if wsIndex < 0 {
			continue
		}
		score, ok := cc.dimensionScore(record)
		if !ok {
			continue
		}
		if best == nil || wsIndex < bestWorkspace || (wsIndex == bestWorkspace && lessScore(score, bestScore)) {
			best = record
			bestWorkspace = wsIndex
			bestScore = score
		}
	}
	return best
}

// IsNotFound reports whether err means the record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
