package mcptools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// CheckpointCreateTool handles the learn_checkpoint_create MCP tool.
type CheckpointCreateTool struct {
	p *pipeline.Pipeline
}

// NewCheckpointCreateTool creates a CheckpointCreateTool over p.
func NewCheckpointCreateTool(p *pipeline.Pipeline) *CheckpointCreateTool {
	return &CheckpointCreateTool{p: p}
}

// Definition returns the MCP tool definition for learn_checkpoint_create.
func (t *CheckpointCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_checkpoint_create",
		mcp.WithDescription("Snapshot observations, instincts, evolved artifacts and identity. Returns the checkpoint id."),
	)
}

// Handle processes the learn_checkpoint_create tool call.
func (t *CheckpointCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ckpt, err := t.p.CreateCheckpoint(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"checkpoint_id": ckpt.ID,
		"created_at":    ckpt.CreatedAt,
		"files":         len(ckpt.Files),
		"bytes":         ckpt.Size(),
	})
}

// CheckpointListTool handles the learn_checkpoint_list MCP tool.
type CheckpointListTool struct {
	p *pipeline.Pipeline
}

// NewCheckpointListTool creates a CheckpointListTool over p.
func NewCheckpointListTool(p *pipeline.Pipeline) *CheckpointListTool {
	return &CheckpointListTool{p: p}
}

// Definition returns the MCP tool definition for learn_checkpoint_list.
func (t *CheckpointListTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_checkpoint_list",
		mcp.WithDescription("List checkpoints, oldest first."),
	)
}

type checkpointSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
}

// Handle processes the learn_checkpoint_list tool call.
func (t *CheckpointListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.p.Checkpoints(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	out := make([]checkpointSummary, len(list))
	for i, c := range list {
		out[i] = checkpointSummary{
			ID:        c.ID,
			CreatedAt: c.CreatedAt.Format(time.RFC3339Nano),
			Files:     len(c.Files),
			Bytes:     c.Size(),
		}
	}
	return jsonResult(map[string]any{"checkpoints": out})
}

// CheckpointRestoreTool handles the learn_checkpoint_restore MCP tool.
type CheckpointRestoreTool struct {
	p *pipeline.Pipeline
}

// NewCheckpointRestoreTool creates a CheckpointRestoreTool over p.
func NewCheckpointRestoreTool(p *pipeline.Pipeline) *CheckpointRestoreTool {
	return &CheckpointRestoreTool{p: p}
}

// Definition returns the MCP tool definition for learn_checkpoint_restore.
func (t *CheckpointRestoreTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_checkpoint_restore",
		mcp.WithDescription(
			"Replace all pipeline state with a checkpoint. Everything recorded since the checkpoint is discarded.",
		),
		mcp.WithString("checkpoint_id",
			mcp.Required(),
			mcp.Description("Checkpoint id as returned by learn_checkpoint_create or learn_checkpoint_list"),
		),
	)
}

// Handle processes the learn_checkpoint_restore tool call.
func (t *CheckpointRestoreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("checkpoint_id", "")
	if id == "" {
		return mcp.NewToolResultError(types.KindCheckpointNotFound + ": 'checkpoint_id' is required"), nil
	}
	if err := t.p.RestoreCheckpoint(ctx, id); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"restored": id})
}
