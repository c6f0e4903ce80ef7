package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/nodequeue/internal/app"
	"github.com/dshills/nodequeue/internal/producer"
	"github.com/dshills/nodequeue/internal/queue"
	"github.com/dshills/nodequeue/internal/searcher"
	"github.com/dshills/nodequeue/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeUnknownQueue  = -32001 // Queue is not configured
	ErrorCodeQueueNotEmpty = -32002 // Batch queue still has pending jobs
	ErrorCodeNodeNotFound  = -32003 // No visible variant of the node
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// handleQueueStatus handles the queue_status tool invocation
func (s *Server) handleQueueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	names := s.app.Manager.QueueNames()
	if flag := getStringDefault(args, "queue", ""); flag != "" {
		name, err := s.app.QueueName(flag)
		if err != nil {
			return nil, newMCPError(ErrorCodeUnknownQueue, "unknown queue", map[string]interface{}{
				"param":   "queue",
				"value":   flag,
				"allowed": append([]string{"batch", "live"}, names...),
			})
		}
		names = []string{name}
	}

	queues := make([]*app.QueueStatus, 0, len(names))
	for _, name := range names {
		status, err := s.app.QueueStatus(ctx, name)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to count jobs", map[string]interface{}{
				"queue": name,
				"error": err.Error(),
			})
		}
		queues = append(queues, status)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"backend": s.app.Config.Queue.Backend,
		"queues":  queues,
	})), nil
}

// handleSearchContent handles the search_content tool invocation
func (s *Server) handleSearchContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	dims, err := getDimensions(args, "dimensions")
	if err != nil {
		return nil, err
	}

	resp, err := s.app.Searcher.Search(ctx, searcher.SearchRequest{
		Query:      query,
		Workspace:  getStringDefault(args, "workspace", "live"),
		Dimensions: dims,
		Limit:      limit,
		UseCache:   true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results":       resp.Results,
		"total_results": resp.TotalResults,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	})), nil
}

// handleIndexNode handles the index_node tool invocation
func (s *Server) handleIndexNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	identifier, ok := args["identifier"].(string)
	if !ok || identifier == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "identifier parameter is required", map[string]interface{}{
			"param":  "identifier",
			"reason": "missing or empty",
		})
	}
	dims, err := getDimensions(args, "dimensions")
	if err != nil {
		return nil, err
	}
	workspace := getStringDefault(args, "workspace", "live")
	target := getStringDefault(args, "target_workspace", "")

	node, err := s.app.IndexNode(ctx, identifier, workspace, dims, target)
	if errors.Is(err, app.ErrNodeNotFound) {
		return nil, newMCPError(ErrorCodeNodeNotFound, "node not found", map[string]interface{}{
			"identifier": identifier,
			"workspace":  workspace,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"identifier": node.Identifier(),
		"path":       node.Path(),
		"removed":    node.IsRemoved(),
		"queued":     s.app.Config.LiveAsyncIndexing,
	}
	if s.app.Config.LiveAsyncIndexing {
		response["queue"] = s.app.Config.Queue.LiveName
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleBuildIndex handles the build_index tool invocation
func (s *Server) handleBuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	opts := producer.BuildOptions{
		Workspace:      getStringDefault(args, "workspace", "live"),
		StartPath:      getStringDefault(args, "start_path", ""),
		DimensionsHash: getStringDefault(args, "dimension_hash", ""),
	}
	result, err := s.app.BatchProducer(io.Discard).Build(ctx, opts)
	switch {
	case errors.Is(err, producer.ErrQueueNotEmpty):
		return nil, newMCPError(ErrorCodeQueueNotEmpty, "batch queue is not empty, flush it first", map[string]interface{}{
			"queue": s.app.Config.Queue.BatchName,
		})
	case errors.Is(err, queue.ErrUnknownQueue):
		return nil, newMCPError(ErrorCodeUnknownQueue, "batch queue is not configured", nil)
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "build failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	workspaces := make([]map[string]interface{}, 0, len(result.Workspaces))
	for _, ws := range result.Workspaces {
		workspaces = append(workspaces, map[string]interface{}{
			"workspace": ws.Workspace,
			"nodes":     ws.Nodes,
			"jobs":      ws.Jobs,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"queue":       s.app.Config.Queue.BatchName,
		"nodes":       result.Nodes(),
		"jobs":        result.Jobs(),
		"workspaces":  workspaces,
		"duration_ms": result.Duration.Milliseconds(),
	})), nil
}

// Helper functions

// arguments returns the argument map of a call
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getDimensions extracts a dimension map. Each value may be a single string
// or a list of strings.
func getDimensions(args map[string]interface{}, key string) (types.DimensionValues, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "dimensions must be an object", map[string]interface{}{
			"param": key,
		})
	}

	dims := make(types.DimensionValues, len(obj))
	for name, value := range obj {
		switch v := value.(type) {
		case string:
			dims[name] = []string{v}
		case []interface{}:
			values := make([]string, 0, len(v))
			for _, item := range v {
				str, ok := item.(string)
				if !ok {
					return nil, newMCPError(ErrorCodeInvalidParams, "dimension values must be strings", map[string]interface{}{
						"param":     key,
						"dimension": name,
					})
				}
				values = append(values, str)
			}
			dims[name] = values
		default:
			return nil, newMCPError(ErrorCodeInvalidParams, "dimension values must be strings", map[string]interface{}{
				"param":     key,
				"dimension": name,
			})
		}
	}
	return dims, nil
}
