package content

import (
	"fmt"
	"strings"

	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

// EverybodyRole is granted to every visitor, including the indexing process
const EverybodyRole = "Neos.Flow:Everybody"

// Context selects which node variants are visible: a workspace (plus its base
// chain), a dimension fallback list and the visibility switches.
type Context struct {
	Workspace                string
	Dimensions               types.DimensionValues
	InvisibleContentShown    bool
	RemovedContentShown      bool
	InaccessibleContentShown bool
}

// key identifies the context in caches
func (c Context) key() string {
	return fmt.Sprintf("%s|%s|%t%t%t", c.Workspace, c.Dimensions.String(),
		c.InvisibleContentShown, c.RemovedContentShown, c.InaccessibleContentShown)
}

// Visible reports whether a record passes the context's visibility switches.
// Moved records are shadows and count as removed.
func (c Context) Visible(record *storage.NodeRecord) bool {
	if (record.Removed || record.MovedTo != nil) && !c.RemovedContentShown {
		return false
	}
	if record.Hidden && !c.InvisibleContentShown {
		return false
	}
	if !accessible(record) && !c.InaccessibleContentShown {
		return false
	}
	return true
}

// dimensionScore returns the fallback position of the record in every axis,
// in sorted axis order. ok is false when the record is not reachable.
func (c Context) dimensionScore(record *storage.NodeRecord) ([]int, bool) {
	names := mergeNames(c.Dimensions, record.Dimensions)
	score := make([]int, 0, len(names))
	for _, name := range names {
		value := record.Dimensions.Primary(name)
		position := indexOf(c.Dimensions[name], value)
		if position < 0 {
			return nil, false
		}
		score = append(score, position)
	}
	return score, true
}

func accessible(record *storage.NodeRecord) bool {
	if len(record.AccessRoles) == 0 {
		return true
	}
	for _, role := range record.AccessRoles {
		if role == EverybodyRole {
			return true
		}
	}
	return false
}

func mergeNames(a, b types.DimensionValues) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for name := range a {
		seen[name] = true
	}
	for name := range b {
		seen[name] = true
	}
	merged := make(types.DimensionValues, len(seen))
	for name := range seen {
		merged[name] = nil
	}
	return merged.Names()
}

func indexOf(values []string, v string) int {
	for i, candidate := range values {
		if candidate == v {
			return i
		}
	}
	return -1
}

// lessScore compares two dimension scores lexicographically
func lessScore(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// String renders the context for log output
func (c Context) String() string {
	var flags []string
	if c.InvisibleContentShown {
		flags = append(flags, "invisible")
	}
	if c.RemovedContentShown {
		flags = append(flags, "removed")
	}
	if c.InaccessibleContentShown {
		flags = append(flags, "inaccessible")
	}
	return fmt.Sprintf("%s %s [%s]", c.Workspace, c.Dimensions, strings.Join(flags, ","))
}
