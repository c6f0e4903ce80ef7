// Package app wires configuration, storage, queues, indexers and search
// into one process-wide value shared by the CLI and the MCP server.
package app
