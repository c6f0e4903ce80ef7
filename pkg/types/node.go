package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RemovedPersistentID marks a NodeRef that has no backing record anymore.
// Executors must remove such refs by identifier and never try to re-fetch them.
const RemovedPersistentID = "removed"

// DimensionValues maps a dimension name to its ordered list of values.
// The first value of each list is the primary (target) value.
type DimensionValues map[string][]string

// Clone returns a deep copy of the dimension values
func (d DimensionValues) Clone() DimensionValues {
	if d == nil {
		return nil
	}
	out := make(DimensionValues, len(d))
	for name, values := range d {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// Primary returns the first value of the named dimension, or "" if absent
func (d DimensionValues) Primary(name string) string {
	values := d[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Target reduces every dimension to its primary value.
func (d DimensionValues) Target() DimensionValues {
	out := make(DimensionValues, len(d))
	for name, values := range d {
		if len(values) > 0 {
			out[name] = []string{values[0]}
		}
	}
	return out
}

// Names returns the dimension names in sorted order
func (d DimensionValues) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both value sets contain the same names and ordered values
func (d DimensionValues) Equal(other DimensionValues) bool {
	return d.canonical() == other.canonical()
}

// Hash returns a stable hash over all dimension values.
func (d DimensionValues) Hash() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(d.canonical()))
}

// TargetHash hashes only the primary values. Search documents are keyed by it so that
// a raw record ({language: [de]}) and a resolved combination ({language: [de, en]})
// address the same document.
func (d DimensionValues) TargetHash() string {
	return d.Target().Hash()
}

func (d DimensionValues) canonical() string {
	var b strings.Builder
	for i, name := range d.Names() {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(d[name], ","))
	}
	return b.String()
}

// String renders the dimension values for log output
func (d DimensionValues) String() string {
	if len(d) == 0 {
		return "{}"
	}
	return "{" + d.canonical() + "}"
}

// NodeRef identifies one node instance in one dimension combination. It carries
// everything needed to re-resolve the node later and never embeds a live node.
type NodeRef struct {
	PersistentID string          `json:"persistenceObjectIdentifier"`
	Identifier   string          `json:"identifier"`
	Dimensions   DimensionValues `json:"dimensions"`
	Workspace    string          `json:"workspace"`
	NodeType     string          `json:"nodeType"`
	Path         string          `json:"path"`
}

// IsRemovalSentinel reports whether the ref has no backing record
func (r NodeRef) IsRemovalSentinel() bool {
	return r.PersistentID == RemovedPersistentID
}

// Validate checks that the ref can be resolved again later
func (r NodeRef) Validate() error {
	if r.PersistentID == "" {
		return fmt.Errorf("%w: missing persistent id", ErrInvalidNodeRef)
	}
	if r.Identifier == "" {
		return fmt.Errorf("%w: missing identifier", ErrInvalidNodeRef)
	}
	if r.Workspace == "" {
		return fmt.Errorf("%w: missing workspace", ErrInvalidNodeRef)
	}
	return nil
}
