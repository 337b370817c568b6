package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/pkg/flowop"
)

func TestNewFlowServer(t *testing.T) {
	s := NewFlowServer(flowop.Config{}, nil, nil)
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewFlowServer(flowop.Config{}, nil, nil)

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)

	expectedTools := []string{
		"flow.run",
		"flow.status",
		"flow.respond_ui",
		"flow.respond_tool",
		"flow.cancel",
		"flow.validate",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestGetRunUnknownInstance(t *testing.T) {
	s := NewFlowServer(flowop.Config{}, nil, nil)
	_, ok := s.getRun("ghost")
	assert.False(t, ok)
}
