// Package indexer turns content nodes into search documents.
//
// DocumentSink buffers document writes and removals and flushes them in one
// transaction. SyncIndexer writes through the sink directly; AsyncIndexer
// decorates it and queues IndexJob and RemovalJob instead when live async
// indexing is enabled. RemovalPlanner computes the removal fan-out across
// dimension combinations.
package indexer
