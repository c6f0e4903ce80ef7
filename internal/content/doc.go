// Package content resolves stored node records into nodes bound to a context.
//
// A Context names a workspace, a dimension fallback list and which hidden,
// removed or inaccessible content is shown. Lookups walk the workspace base
// chain: a variant in the most specific workspace wins, even when it is a
// removed shadow of a base record. Among variants of one workspace, the one
// whose dimension values come first in the fallback list wins.
//
//	repo, _ := content.NewRepository(store, []string{"Neos.Neos:Document"})
//	node, err := repo.NodeByIdentifier(ctx, content.Context{
//	    Workspace:  "live",
//	    Dimensions: types.DimensionValues{"language": {"de", "en"}},
//	}, identifier)
//
// PageCursor streams the full-reindex enumeration and ClearState drops the
// repository caches between pages.
package content
