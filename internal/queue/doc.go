// Package queue implements the job queues workers consume.
//
// Two backends share the Queue interface: SQLiteQueue keeps messages in the
// application database, JetStreamQueue uses a NATS JetStream work-queue
// stream. Manager encodes jobs through a Codec, submits them with retry and
// executes reserved messages with a bounded release budget.
package queue
