// Package producer fills the job queues.
//
// BatchProducer pages through a workspace and queues one IndexJob per page
// for a full reindex. IncrementalProducer queues the fulltext roots of nodes
// changed since the watermark and moves the watermark forward without ever
// splitting a group of rows that share a timestamp.
package producer
