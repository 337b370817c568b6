package mcp

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowop/pkg/flowop"
)

// FlowServer wraps an MCP server exposing engine control tools over stdio.
// Each flow.run spawns its own engine instance; pending interactions and
// async tools are resolved through flow.respond_ui / flow.respond_tool.
type FlowServer struct {
	logger    *slog.Logger
	cfg       flowop.Config
	setup     SetupFunc
	mcpServer *server.MCPServer

	mu   sync.Mutex
	runs map[string]*run
}

// SetupFunc prepares a fresh engine before a run: register tools, UI
// components, hooks. May be nil.
type SetupFunc func(e *flowop.Engine) error

// run tracks one engine instance started via flow.run.
type run struct {
	engine *flowop.Engine
	done   chan struct{}

	mu     sync.Mutex
	result *flowop.WorkflowResult
	err    error
}

// NewFlowServer creates a FlowServer with all tools registered.
func NewFlowServer(cfg flowop.Config, setup SetupFunc, logger *slog.Logger) *FlowServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		logger: logger,
		cfg:    cfg,
		setup:  setup,
		runs:   make(map[string]*run),
	}

	mcpSrv := server.NewMCPServer(
		"flowop",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowop executes declarative step workflows. Use flow.run to start a workflow definition, flow.status to inspect progress, flow.respond_ui and flow.respond_tool to resolve waiting steps, flow.cancel to abort, and flow.validate to check a definition without running it."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: respondUITool(), Handler: s.handleRespondUI},
		{Tool: respondToolTool(), Handler: s.handleRespondTool},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: validateTool(), Handler: s.handleValidate},
	}
}

// getRun looks up a tracked run by instance ID.
func (s *FlowServer) getRun(instanceID string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[instanceID]
	return r, ok
}
