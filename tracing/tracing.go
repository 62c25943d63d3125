// Package tracing holds span attribute keys and helpers shared by the bridge,
// the vendor providers and the upstream transport.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attributes of inbound MCP requests.
const (
	RequestPath = "request_path"
	Transport   = "transport"
)

// Attributes of a tool call.
const (
	Provider = "provider"
	ToolName = "tool_name"
	CallID   = "call_id"
	IsError  = "is_error"
)

// Attributes of a vendor API request.
const (
	UpstreamEndpoint   = "upstream_endpoint"
	UpstreamMethod     = "upstream_method"
	UpstreamURL        = "upstream_url"
	UpstreamStatusCode = "upstream_status_code"
)

// Attributes of proxied remote MCP servers.
const (
	MCPInput      = "mcp_input"
	MCPServerName = "mcp_server_name"
	MCPServerURL  = "mcp_server_url"
	MCPToolCount  = "mcp_tool_count"
)

// EndSpanErr ends span, marking it failed when *err is set. Pass the address
// of a named return so the deferred call sees the final value:
//
//	func call() (outErr error) {
//		_, span := tracer.Start(ctx, "call")
//		defer tracing.EndSpanErr(span, &outErr)
//		...
//	}
func EndSpanErr(span trace.Span, err *error) {
	if span == nil {
		return
	}
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

type toolCallAttrsKey struct{}

// WithToolCallAttributesInContext stores the attributes of the tool call in
// progress so that upstream request spans can repeat them.
func WithToolCallAttributesInContext(ctx context.Context, attrs []attribute.KeyValue) context.Context {
	return context.WithValue(ctx, toolCallAttrsKey{}, attrs)
}

func ToolCallAttributesFromContext(ctx context.Context) []attribute.KeyValue {
	attrs, _ := ctx.Value(toolCallAttrsKey{}).([]attribute.KeyValue)
	return attrs
}
