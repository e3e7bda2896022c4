// Package mcptools provides the MCP tool handlers that let an agent host
// drive the learning pipeline.
//
// Each tool follows the same shape:
//   - a struct holding the pipeline, injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() runs the operation and returns its JSON summary
//
// Operation failures are returned as MCP tool errors carrying the error kind,
// never as protocol errors.
package mcptools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// jsonResult renders v as the tool's text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: encode result: %v", types.KindInternal, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports err as a tool error prefixed with its kind.
func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", types.Kind(err), err))
}

func observationTypeNames() []string {
	out := make([]string, len(types.ObservationTypes))
	for i, t := range types.ObservationTypes {
		out[i] = string(t)
	}
	return out
}

func artifactCategoryNames() []string {
	out := make([]string, len(types.ArtifactCategories))
	for i, c := range types.ArtifactCategories {
		out[i] = string(c)
	}
	return out
}
