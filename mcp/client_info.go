package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/coder/mcpbridge/buildinfo"
)

// GetClientInfo returns the implementation reported when connecting to remote
// MCP servers.
func GetClientInfo() mcp.Implementation {
	return mcp.Implementation{
		Name:    "coder/mcpbridge",
		Version: buildinfo.Version(),
	}
}
