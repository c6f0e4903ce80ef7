// Package storage provides SQLite-based persistence for the content tree,
// the change watermark, the job queue and the search documents.
//
// # Database Schema
//
// Tables:
//   - workspaces: Named workspaces, each optionally based on another one
//   - nodes: Node records, one row per workspace and dimension variant
//   - watermark: Single row holding the last-checked timestamp
//   - queue_messages: Job envelopes of the SQLite queue backend
//   - documents: Search documents keyed by identifier, workspace and target dimensions
//   - documents_fts: FTS5 full-text index over documents
//
// Timestamps are stored as unix microseconds.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("nodequeue.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	changes, err := store.ChangedSince(ctx, "live", watermark)
//
// # Watermark
//
// The watermark is advanced with CompareAndSwapWatermark. A writer that read a
// stale value gets ErrWatermarkConflict instead of silently moving it backwards.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite. Building with the sqlite_cgo tag
// switches to github.com/mattn/go-sqlite3 (add sqlite_fts5 as well).
package storage
