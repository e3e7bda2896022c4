package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
)

const defaultSearchLimit = 10

// SearchTool handles the learn_search MCP tool.
type SearchTool struct {
	p *pipeline.Pipeline
}

// NewSearchTool creates a SearchTool over p.
func NewSearchTool(p *pipeline.Pipeline) *SearchTool {
	return &SearchTool{p: p}
}

// Definition returns the MCP tool definition for learn_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_search",
		mcp.WithDescription(
			"Find instincts and evolved artifacts by keyword, ranked by how many query terms they contain.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Space-separated search terms"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default 10, 0 for all)"),
		),
	)
}

// Handle processes the learn_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := int(req.GetFloat("limit", defaultSearchLimit))
	if limit < 0 {
		return mcp.NewToolResultError(fmt.Sprintf("'limit' must not be negative, got %d", limit)), nil
	}
	results, err := t.p.Search(ctx, query, limit)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"results": results})
}
