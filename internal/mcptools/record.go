package mcptools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// RecordTool handles the learn_record MCP tool.
type RecordTool struct {
	p *pipeline.Pipeline
}

// NewRecordTool creates a RecordTool over p.
func NewRecordTool(p *pipeline.Pipeline) *RecordTool {
	return &RecordTool{p: p}
}

// Definition returns the MCP tool definition for learn_record.
func (t *RecordTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_record",
		mcp.WithDescription(
			"Record one observation of agent behaviour (a tool call, workflow, error fix, framework choice...). "+
				"Call this from hooks after each notable event.",
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Observation type"),
			mcp.Enum(observationTypeNames()...),
		),
		mcp.WithString("data",
			mcp.Required(),
			mcp.Description(`Type-specific payload as a JSON object, e.g. {"tool":"Bash","success":true}`),
		),
		mcp.WithString("session_id",
			mcp.Description("Agent session identifier"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory the event happened in"),
		),
		mcp.WithString("framework",
			mcp.Description("Detected framework, when known"),
		),
	)
}

// Handle processes the learn_record tool call.
func (t *RecordTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ := req.GetString("type", "")
	data := req.GetString("data", "")
	if typ == "" {
		return mcp.NewToolResultError(types.KindInvalidObservation + ": 'type' is required"), nil
	}
	if data == "" {
		return mcp.NewToolResultError(types.KindInvalidObservation + ": 'data' is required"), nil
	}

	obs, err := t.p.Record(ctx, pipeline.RecordRequest{
		Type: typ,
		Data: json.RawMessage(data),
		Context: types.Context{
			SessionID: req.GetString("session_id", ""),
			Cwd:       req.GetString("cwd", ""),
			Framework: req.GetString("framework", ""),
		},
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"id":        obs.ID,
		"type":      obs.Type,
		"timestamp": obs.Timestamp,
	})
}
