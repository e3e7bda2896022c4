package mcptools

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
)

const instructions = `learn captures how you work and distils it into reusable knowledge.

Call learn_record after notable events (tool calls, workflows, error fixes).
Run learn_process then learn_evolve at the end of a session to turn observations
into instincts and high-confidence instincts into skills, commands and agents.
learn_search finds what has been learned so far by keyword.
Take a learn_checkpoint_create before experimenting; learn_checkpoint_restore
rolls every store back to it.`

// ServerOptions configures NewServer.
type ServerOptions struct {
	Version       string
	MinConfidence float64
}

// NewServer creates the MCP server with every learn tool registered.
func NewServer(p *pipeline.Pipeline, opts ServerOptions) *server.MCPServer {
	s := server.NewMCPServer(
		"learn",
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	record := NewRecordTool(p)
	s.AddTool(record.Definition(), record.Handle)

	process := NewProcessTool(p, opts.MinConfidence)
	s.AddTool(process.Definition(), process.Handle)

	evolveTool := NewEvolveTool(p)
	s.AddTool(evolveTool.Definition(), evolveTool.Handle)

	stats := NewStatsTool(p)
	s.AddTool(stats.Definition(), stats.Handle)

	searchTool := NewSearchTool(p)
	s.AddTool(searchTool.Definition(), searchTool.Handle)

	create := NewCheckpointCreateTool(p)
	s.AddTool(create.Definition(), create.Handle)

	list := NewCheckpointListTool(p)
	s.AddTool(list.Definition(), list.Handle)

	restore := NewCheckpointRestoreTool(p)
	s.AddTool(restore.Definition(), restore.Handle)

	return s
}
