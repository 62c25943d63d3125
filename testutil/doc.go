// Package testutil contains helpers for testing mcpbridge.
//
// # Stability
//
// This package is intended for tests within this module.
// It is not considered a stable public API.
//
// It provides a fake vendor API ([UpstreamServer]), a mock remote MCP server
// ([MCPServer]), typed accessors for txtar tool fixtures ([ToolFixture]) and a
// harness for standing up a bridge over HTTP ([BridgeServer]).
package testutil
