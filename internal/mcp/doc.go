// Package mcp implements the Model Context Protocol (MCP) server for nodequeue.
//
// The server exposes four tools:
//   - queue_status: pending, reserved and failed jobs per queue
//   - search_content: full-text search over the indexed documents
//   - index_node: index or remove one node, inline or via the live queue
//   - build_index: queue a full reindex on the batch queue
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr because stdout carries the protocol.
//
// # Basic Usage
//
// The server is started via the serve command:
//
//	nodequeue serve --config nodequeue.yaml
//
// # Error Handling
//
// Tool errors are returned as *MCPError with a JSON-RPC style code:
//   - -32602: invalid parameters
//   - -32603: internal error
//   - -32001: unknown queue
//   - -32002: batch queue still has pending jobs
//   - -32003: node not found
//   - -32004: empty query
//
// Tool results are indented JSON text.
package mcp
