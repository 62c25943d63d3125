package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerProxier provides an abstraction to communicate with remote MCP servers
// regardless of their transport, so their tools can be re-exported.
type ServerProxier interface {
	// Init connects to the remote server and fetches its tools.
	Init(context.Context) error
	// Shutdown closes the connection to the remote server.
	Shutdown(ctx context.Context) error

	// ListTools lists all known tools, sorted by ID.
	ListTools() []*Tool
	// GetTool returns the tool with the given ID, or nil.
	GetTool(id string) *Tool
	// CallTool invokes the tool with the given ID on its remote server.
	CallTool(ctx context.Context, id string, input any) (*mcp.CallToolResult, error)
}
