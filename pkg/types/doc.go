// Package types provides shared type definitions for the node queue indexer.
//
// # Node references
//
// NodeRef identifies one node instance in one dimension combination. Producers
// place NodeRefs into jobs, executors resolve them again later:
//
//	ref := types.NodeRef{
//	    PersistentID: "5f0c...",
//	    Identifier:   "b8b5...",
//	    Dimensions:   types.DimensionValues{"language": {"de", "en"}},
//	    Workspace:    "live",
//	    NodeType:     "Neos.Neos:Document",
//	    Path:         "/sites/site/about",
//	}
//
// A NodeRef whose PersistentID is RemovedPersistentID has no backing record and
// is removed from the index by identifier.
//
// # Dimension values
//
// DimensionValues maps a dimension name to an ordered fallback list. The first
// value is the target value:
//
//	dims := types.DimensionValues{"language": {"de", "en"}}
//	dims.Primary("language") // "de"
//	dims.TargetHash()        // hash of {"language": ["de"]}
package types
