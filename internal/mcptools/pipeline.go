package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/evolve"
	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
)

// ProcessTool handles the learn_process MCP tool.
type ProcessTool struct {
	p *pipeline.Pipeline

	// minConfidence is the default when the call leaves it out.
	minConfidence float64
}

// NewProcessTool creates a ProcessTool over p.
func NewProcessTool(p *pipeline.Pipeline, minConfidence float64) *ProcessTool {
	return &ProcessTool{p: p, minConfidence: minConfidence}
}

// Definition returns the MCP tool definition for learn_process.
func (t *ProcessTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_process",
		mcp.WithDescription(
			"Turn recorded observations into scored instincts. Safe to re-run: unchanged patterns are left as they are.",
		),
		mcp.WithNumber("min_confidence",
			mcp.Description("Discard new patterns scoring below this confidence (0-1)"),
		),
	)
}

// Handle processes the learn_process tool call.
func (t *ProcessTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minConf := req.GetFloat("min_confidence", t.minConfidence)
	if minConf < 0 || minConf > 1 {
		return mcp.NewToolResultError(fmt.Sprintf("'min_confidence' must be within [0, 1], got %v", minConf)), nil
	}
	res, err := t.p.Process(ctx, instinct.ProcessOptions{MinConfidence: minConf})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// EvolveTool handles the learn_evolve MCP tool.
type EvolveTool struct {
	p *pipeline.Pipeline
}

// NewEvolveTool creates an EvolveTool over p.
func NewEvolveTool(p *pipeline.Pipeline) *EvolveTool {
	return &EvolveTool{p: p}
}

// Definition returns the MCP tool definition for learn_evolve.
func (t *EvolveTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_evolve",
		mcp.WithDescription(
			"Promote high-confidence instincts into skills, commands and agents, and flag artifacts whose instinct has decayed.",
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report what would change without writing anything"),
		),
		mcp.WithString("category",
			mcp.Description("Only evolve into this artifact category"),
			mcp.Enum(artifactCategoryNames()...),
		),
	)
}

// Handle processes the learn_evolve tool call.
func (t *EvolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := evolve.EvolveOptions{DryRun: boolArg(req, "dry_run", false)}
	if c := req.GetString("category", ""); c != "" {
		cat, ok := config.ParseCategory(c)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown category %q", c)), nil
		}
		opts.Category = cat
	}
	res, err := t.p.Evolve(ctx, opts)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// StatsTool handles the learn_stats MCP tool.
type StatsTool struct {
	p *pipeline.Pipeline
}

// NewStatsTool creates a StatsTool over p.
func NewStatsTool(p *pipeline.Pipeline) *StatsTool {
	return &StatsTool{p: p}
}

// Definition returns the MCP tool definition for learn_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_stats",
		mcp.WithDescription("Show observation counts: total, live, archived and per type."),
	)
}

// Handle processes the learn_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.p.Stats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(st)
}
