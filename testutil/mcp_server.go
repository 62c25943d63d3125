package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cdr.dev/slog"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"

	"github.com/coder/mcpbridge/mcp"
)

type MCPToolResultFunc func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error)

// MCPServer is a mock remote MCP server served over streamable HTTP. Every
// tool takes a single "query" string argument.
type MCPServer struct {
	*httptest.Server

	callsMu    sync.Mutex
	calls      map[string][]any
	lastHeader http.Header
}

type MCPServerOption func(*mcpServerConfig)

type mcpServerConfig struct {
	toolResultFn MCPToolResultFunc
}

func WithMCPToolResult(fn MCPToolResultFunc) MCPServerOption {
	return func(cfg *mcpServerConfig) {
		cfg.toolResultFn = fn
	}
}

func NewMCPServer(t testing.TB, toolNames []string, opts ...MCPServerOption) *MCPServer {
	t.Helper()

	cfg := mcpServerConfig{
		toolResultFn: func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			return mcplib.NewToolResultText("mock"), nil
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	s := &MCPServer{calls: make(map[string][]any)}

	mcpSrv := server.NewMCPServer(
		"Mock MCP server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	for _, name := range toolNames {
		tool := mcplib.NewTool(name,
			mcplib.WithDescription(fmt.Sprintf("Mock of the %s tool", name)),
			mcplib.WithString("query", mcplib.Description("Free-form query.")),
		)
		mcpSrv.AddTool(tool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			s.addCall(request.Params.Name, request.Params.Arguments)
			return cfg.toolResultFn(ctx, request)
		})
	}

	h := server.NewStreamableHTTPServer(mcpSrv)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.callsMu.Lock()
		s.lastHeader = r.Header.Clone()
		s.callsMu.Unlock()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Server.Close)

	return s
}

func (s *MCPServer) addCall(tool string, args any) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	s.calls[tool] = append(s.calls[tool], args)
}

func (s *MCPServer) CallsByTool(name string) []any {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	calls := s.calls[name]
	out := make([]any, len(calls))
	copy(out, calls)
	return out
}

// LastHeader returns the headers of the most recent HTTP request.
func (s *MCPServer) LastHeader() http.Header {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return s.lastHeader.Clone()
}

func (s *MCPServer) Proxiers(t testing.TB, serverName string, logger slog.Logger, tracer trace.Tracer) map[string]mcp.ServerProxier {
	t.Helper()

	proxy, err := mcp.NewStreamableHTTPServerProxy(serverName, s.URL, nil, nil, nil, logger, tracer)
	mustNoError(t, err, "create MCP proxy")
	return map[string]mcp.ServerProxier{proxy.Name(): proxy}
}
