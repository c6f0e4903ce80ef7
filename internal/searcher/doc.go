// Package searcher answers full-text queries over the search documents
// written by the index sink.
//
// Queries run against the FTS5 table with BM25 ranking and may be narrowed to
// a workspace and a dimension combination. Responses can be cached in an LRU
// with a per-request TTL:
//
//	s := searcher.NewSearcher(store)
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:      "coffee",
//	    Workspace:  "live",
//	    Dimensions: types.DimensionValues{"language": {"de", "en"}},
//	    UseCache:   true,
//	})
//
// The sink's documents are keyed by the target dimension hash, so any
// fallback list whose first values match selects the same documents.
package searcher
