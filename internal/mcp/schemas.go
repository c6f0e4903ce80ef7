package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// dimensionsSchema describes a dimension name to fallback values map
func dimensionsSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": description,
		"additionalProperties": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	}
}

// queueStatusTool returns the tool definition for queue_status
func queueStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "queue_status",
		Description: "Report pending, reserved and failed jobs of the indexing queues",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"queue": map[string]interface{}{
					"type":        "string",
					"description": "Queue to inspect: batch, live or a configured queue name. Omit for all queues.",
				},
			},
		},
	}
}

// searchContentTool returns the tool definition for search_content
func searchContentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_content",
		Description: "Full-text search over indexed content nodes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search terms; all terms must match",
				},
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Workspace to search",
					"default":     "live",
				},
				"dimensions": dimensionsSchema("Restrict results to one dimension combination, e.g. {\"language\": [\"de\", \"en\"]}"),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexNodeTool returns the tool definition for index_node
func indexNodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_node",
		Description: "Index or remove a single node, inline or through the live queue depending on configuration",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"identifier": map[string]interface{}{
					"type":        "string",
					"description": "Node identifier",
				},
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Workspace to resolve the node in",
					"default":     "live",
				},
				"target_workspace": map[string]interface{}{
					"type":        "string",
					"description": "Workspace to index into; defaults to the resolving workspace",
				},
				"dimensions": dimensionsSchema("Dimension values to resolve the node with"),
			},
			Required: []string{"identifier"},
		},
	}
}

// buildIndexTool returns the tool definition for build_index
func buildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_index",
		Description: "Queue a full reindex on the batch queue. Fails when the batch queue still has pending jobs.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Workspace to reindex; empty reindexes every workspace",
					"default":     "live",
				},
				"start_path": map[string]interface{}{
					"type":        "string",
					"description": "Only index nodes at or below this path",
				},
				"dimension_hash": map[string]interface{}{
					"type":        "string",
					"description": "Only index nodes with this dimensions hash",
				},
			},
		},
	}
}
