package storage

import (
	"context"
	"time"

	"github.com/dshills/nodequeue/pkg/types"
)

// Storage defines the interface for the content tree, the watermark row, the
// SQLite-backed job queue and the search documents
type Storage interface {
	ContentStore
	WatermarkStore
	MessageStore
	DocumentStore

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// ContentStore provides paginated and change-driven read access to node records
type ContentStore interface {
	// Workspace operations
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, name string) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*Workspace, error)

	// Node operations
	UpsertNode(ctx context.Context, node *NodeRecord) error
	GetNodeByPersistentID(ctx context.Context, persistentID string) (*NodeRecord, error)
	FindNodeVariants(ctx context.Context, identifier string, workspaces []string) ([]*NodeRecord, error)
	FindNodeVariantsByPath(ctx context.Context, path string, workspaces []string) ([]*NodeRecord, error)
	FindDescendantVariants(ctx context.Context, pathPrefix string, workspaces []string) ([]*NodeRecord, error)

	// Source queries used by the producers
	PageByWorkspace(ctx context.Context, q PageQuery) ([]*NodeRecord, error)
	ChangedSince(ctx context.Context, workspace string, since *time.Time) ([]*ChangeRecord, error)
}

// WatermarkStore persists the single last-checked row
type WatermarkStore interface {
	GetWatermark(ctx context.Context) (*time.Time, error)
	// CompareAndSwapWatermark writes next only if the stored value still equals
	// expected (nil meaning "never checked"). Returns ErrWatermarkConflict otherwise.
	CompareAndSwapWatermark(ctx context.Context, expected *time.Time, next time.Time) error
}

// MessageStore backs the SQLite job queue
type MessageStore interface {
	InsertMessage(ctx context.Context, queue string, payload []byte) (*QueueMessage, error)
	ReserveMessage(ctx context.Context, queue string) (*QueueMessage, error)
	RequeueExpired(ctx context.Context, queue string, reservedBefore time.Time) (int, error)
	FinishMessage(ctx context.Context, id int64) error
	ReleaseMessage(ctx context.Context, id int64) error
	AbortMessage(ctx context.Context, id int64) error
	CountMessages(ctx context.Context, queue string) (*QueueCounts, error)
	FlushMessages(ctx context.Context, queue string) (int, error)
}

// DocumentStore holds the search index documents
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, identifier, workspace, dimensionsHash string) (*Document, error)
	DeleteDocuments(ctx context.Context, identifier, workspace, dimensionsHash string) (int, error)
	SearchDocuments(ctx context.Context, q DocumentQuery) ([]DocumentResult, error)
	CountDocuments(ctx context.Context, workspace string) (int, error)
}

// Tx represents a database transaction over the document store
type Tx interface {
	Commit() error
	Rollback() error
	DocumentStore
}

// Workspace is a named variant of the content tree
type Workspace struct {
	Name          string
	BaseWorkspace string // Empty for the root workspace (live)
	CreatedAt     time.Time
}

// NodeRecord is one stored node row in one workspace and one dimension variant
type NodeRecord struct {
	PersistentID   string
	Identifier     string
	Workspace      string
	Path           string
	ParentPath     string
	NodeType       string
	Dimensions     types.DimensionValues
	DimensionsHash string
	Hidden         bool
	Removed        bool
	MovedTo        *string // Nullable
	AccessRoles    []string
	Properties     map[string]string
	LastModified   *time.Time // Nullable
}

// PageQuery filters one page of the full-reindex enumeration
type PageQuery struct {
	Workspace      string
	After          string // Persistent id of the last record of the previous page
	Limit          int
	PathPrefix     string
	DimensionsHash string
	NodeTypes      []string // Fulltext root node types; empty means no type filter
}

// ChangeRecord is a modified row returned by ChangedSince
type ChangeRecord struct {
	PersistentID string
	Identifier   string
	Workspace    string
	Dimensions   types.DimensionValues
	LastModified time.Time
}

// QueueMessage is a stored job envelope
type QueueMessage struct {
	ID         int64
	Queue      string
	Payload    []byte
	State      string
	Releases   int
	CreatedAt  time.Time
	ReservedAt *time.Time
}

// Message states
const (
	MessageReady    = "ready"
	MessageReserved = "reserved"
	MessageFailed   = "failed"
)

// QueueCounts contains per-state message counts for one queue
type QueueCounts struct {
	Ready    int
	Reserved int
	Failed   int
}

// Document is one indexed fulltext root in one workspace and target dimension
type Document struct {
	ID             int64
	Identifier     string
	Workspace      string
	DimensionsHash string
	Dimensions     types.DimensionValues
	NodeType       string
	Path           string
	Title          string
	Body           string
	UpdatedAt      time.Time
}

// DocumentQuery contains full-text search parameters
type DocumentQuery struct {
	Query          string
	Workspace      string
	DimensionsHash string // Optional
	Limit          int
}

// DocumentResult is a document with its BM25 score
type DocumentResult struct {
	Document  *Document
	BM25Score float64
}
