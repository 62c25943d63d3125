package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"slices"

	"cdr.dev/slog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coder/mcpbridge/tracing"
)

const (
	maxSpanInputAttrLen = 100
	toolIDDelimiter     = "_"
)

// ToolCaller is the narrowest interface which describes the behaviour required
// from [mcp.ClientSession].
type ToolCaller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// Tool is a tool offered by a remote MCP server.
type Tool struct {
	Client ToolCaller

	// ID is the name the tool is re-exported under, see [EncodeToolID].
	ID          string
	Name        string
	ServerName  string
	ServerURL   string
	Description string
	InputSchema map[string]any
	Logger      slog.Logger
}

// RawInputSchema returns the tool's input schema as JSON. Tools without a
// schema accept an empty object.
func (t *Tool) RawInputSchema() json.RawMessage {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func (t *Tool) Call(ctx context.Context, tracer trace.Tracer, input any) (_ *mcp.CallToolResult, outErr error) {
	if t == nil {
		return nil, errors.New("nil tool")
	}
	if t.Client == nil {
		return nil, errors.New("nil client")
	}

	spanAttrs := append(
		slices.Clone(tracing.ToolCallAttributesFromContext(ctx)),
		attribute.String(tracing.MCPServerName, t.ServerName),
		attribute.String(tracing.MCPServerURL, t.ServerURL),
	)
	ctx, span := tracer.Start(ctx, "RemoteTool.Call", trace.WithAttributes(spanAttrs...))
	defer tracing.EndSpanErr(span, &outErr)

	inputJSON, err := json.Marshal(input)
	if err != nil {
		t.Logger.Warn(ctx, "failed to marshal tool input, will be omitted from span attrs", slog.Error(err))
	} else {
		strJSON := string(inputJSON)
		if len(strJSON) > maxSpanInputAttrLen {
			strJSON = strJSON[:maxSpanInputAttrLen]
		}
		span.SetAttributes(attribute.String(tracing.MCPInput, strJSON))
	}

	return t.Client.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.Name,
		Arguments: input,
	})
}

// EncodeToolID namespaces a remote tool with its server name, the same way
// built-in tools are namespaced with their provider name.
func EncodeToolID(server, tool string) string {
	return server + toolIDDelimiter + tool
}

// ToolAllowed applies the allow and deny patterns to a tool name. A nil
// pattern does not restrict. Deny wins; conflict reports that both matched.
func ToolAllowed(name string, allow, deny *regexp.Regexp) (ok, conflict bool) {
	allowMatch := allow == nil || allow.MatchString(name)
	if deny != nil && deny.MatchString(name) {
		return false, allow != nil && allowMatch
	}
	return allowMatch, false
}

// FilterAllowedTools returns the tools, keyed by the name clients see, which
// pass [ToolAllowed]. Without patterns tools is returned as is.
func FilterAllowedTools[T any](logger slog.Logger, tools map[string]T, allowlist *regexp.Regexp, denylist *regexp.Regexp) map[string]T {
	if len(tools) == 0 || (allowlist == nil && denylist == nil) {
		return tools
	}

	allowed := make(map[string]T, len(tools))
	for name, tool := range tools {
		ok, conflict := ToolAllowed(name, allowlist, denylist)
		if conflict {
			logger.Warn(context.Background(), "tool matches both allow and deny patterns, hiding it", slog.F("name", name))
		}
		if ok {
			allowed[name] = tool
		}
	}
	return allowed
}
