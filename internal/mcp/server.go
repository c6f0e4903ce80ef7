package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/nodequeue/internal/app"
)

const (
	// ServerName is the MCP server name
	ServerName = "nodequeue"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes queue status, search and indexing as MCP tools
type Server struct {
	mcp *server.MCPServer
	app *app.App
}

// NewServer creates a new MCP server on top of a wired application
func NewServer(a *app.App) *Server {
	s := &Server{
		mcp: server.NewMCPServer(ServerName, ServerVersion),
		app: a,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(queueStatusTool(), s.handleQueueStatus)
	s.mcp.AddTool(searchContentTool(), s.handleSearchContent)
	s.mcp.AddTool(indexNodeTool(), s.handleIndexNode)
	s.mcp.AddTool(buildIndexTool(), s.handleBuildIndex)
}
