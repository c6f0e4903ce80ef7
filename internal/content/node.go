package content

import (
	"path"

	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

// Node is a record resolved in a context
type Node struct {
	record  *storage.NodeRecord
	context Context
}

// Record returns the backing record
func (n *Node) Record() *storage.NodeRecord { return n.record }

// Context returns the context the node was resolved in
func (n *Node) Context() Context { return n.context }

func (n *Node) PersistentID() string { return n.record.PersistentID }
func (n *Node) Identifier() string   { return n.record.Identifier }
func (n *Node) Path() string         { return n.record.Path }
func (n *Node) NodeType() string     { return n.record.NodeType }

// Workspace is the workspace the backing record lives in, which can be a base
// of the context workspace.
func (n *Node) Workspace() string { return n.record.Workspace }

// Name is the last path segment
func (n *Node) Name() string { return path.Base(n.record.Path) }

// Dimensions returns the dimension values of the context
func (n *Node) Dimensions() types.DimensionValues { return n.context.Dimensions }

// IsRemoved reports whether the record is removed or a moved shadow
func (n *Node) IsRemoved() bool {
	return n.record.Removed || n.record.MovedTo != nil
}

// Property returns a property value
func (n *Node) Property(name string) string {
	return n.record.Properties[name]
}

// Properties returns all properties of the node
func (n *Node) Properties() map[string]string {
	return n.record.Properties
}

// Ref converts the node to a job reference
func (n *Node) Ref() types.NodeRef {
	return types.NodeRef{
		PersistentID: n.record.PersistentID,
		Identifier:   n.record.Identifier,
		Dimensions:   n.context.Dimensions.Clone(),
		Workspace:    n.record.Workspace,
		NodeType:     n.record.NodeType,
		Path:         n.record.Path,
	}
}
