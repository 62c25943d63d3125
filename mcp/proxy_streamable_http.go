package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"cdr.dev/slog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/maps"

	"github.com/coder/mcpbridge/tracing"
)

var _ ServerProxier = &StreamableHTTPServerProxy{}

// StreamableHTTPServerProxy proxies a remote MCP server reachable over the
// streamable HTTP transport.
type StreamableHTTPServerProxy struct {
	serverName string
	serverURL  string
	headers    map[string]string
	logger     slog.Logger
	tracer     trace.Tracer

	allowlistPattern, denylistPattern *regexp.Regexp

	mu      sync.RWMutex
	session *mcp.ClientSession
	tools   map[string]*Tool
}

func NewStreamableHTTPServerProxy(serverName, serverURL string, headers map[string]string, allowlist, denylist *regexp.Regexp, logger slog.Logger, tracer trace.Tracer) (*StreamableHTTPServerProxy, error) {
	if serverName == "" || strings.Contains(serverName, "/") {
		return nil, fmt.Errorf("invalid MCP server name %q", serverName)
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse MCP server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("MCP server URL %q must be http or https", serverURL)
	}

	return &StreamableHTTPServerProxy{
		serverName:       serverName,
		serverURL:        serverURL,
		headers:          headers,
		logger:           logger.Named("mcp-proxy").With(slog.F("server", serverName)),
		tracer:           tracer,
		allowlistPattern: allowlist,
		denylistPattern:  denylist,
	}, nil
}

func (p *StreamableHTTPServerProxy) Name() string {
	return p.serverName
}

func (p *StreamableHTTPServerProxy) Init(ctx context.Context) (outErr error) {
	ctx, span := p.tracer.Start(ctx, "ServerProxy.Init", trace.WithAttributes(
		attribute.String(tracing.MCPServerName, p.serverName),
		attribute.String(tracing.MCPServerURL, p.serverURL),
	))
	defer tracing.EndSpanErr(span, &outErr)

	transport := &mcp.StreamableClientTransport{
		Endpoint:   p.serverURL,
		HTTPClient: newHTTPClientWithHeaders(p.headers),
	}

	impl := GetClientInfo()
	client := mcp.NewClient(&impl, nil)
	sess, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect MCP client: %w", err)
	}

	p.logger.Debug(ctx, "MCP client initialized")

	tools, err := p.fetchTools(ctx, sess)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("fetch tools: %w", err)
	}

	// Only include allowed tools.
	tools = FilterAllowedTools(p.logger.Named("tool-filterer"), tools, p.allowlistPattern, p.denylistPattern)
	span.SetAttributes(attribute.Int(tracing.MCPToolCount, len(tools)))

	p.mu.Lock()
	p.session = sess
	p.tools = tools
	p.mu.Unlock()
	return nil
}

func (p *StreamableHTTPServerProxy) ListTools() []*Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := maps.Values(p.tools)
	slices.SortFunc(out, func(a, b *Tool) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (p *StreamableHTTPServerProxy) GetTool(id string) *Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.tools == nil {
		return nil
	}
	return p.tools[id]
}

func (p *StreamableHTTPServerProxy) CallTool(ctx context.Context, id string, input any) (*mcp.CallToolResult, error) {
	tool := p.GetTool(id)
	if tool == nil {
		return nil, fmt.Errorf("%q tool not known", id)
	}
	return tool.Call(ctx, p.tracer, input)
}

func (p *StreamableHTTPServerProxy) fetchTools(ctx context.Context, sess *mcp.ClientSession) (map[string]*Tool, error) {
	res, err := sess.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list MCP tools: %w", err)
	}

	out := make(map[string]*Tool, len(res.Tools))
	for _, t := range res.Tools {
		id := EncodeToolID(p.serverName, t.Name)

		schema, _ := t.InputSchema.(map[string]any)
		out[id] = &Tool{
			Client:      sess,
			ID:          id,
			Name:        t.Name,
			ServerName:  p.serverName,
			ServerURL:   p.serverURL,
			Description: t.Description,
			InputSchema: schema,
			Logger:      p.logger,
		}
	}
	return out, nil
}

func (p *StreamableHTTPServerProxy) Shutdown(context.Context) error {
	p.mu.Lock()
	sess := p.session
	p.session = nil
	p.mu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Close()
}

// newHTTPClientWithHeaders returns an http.Client that injects headers (including Accept for streamable) on each request.
func newHTTPClientWithHeaders(headers map[string]string) *http.Client {
	transport := http.DefaultTransport
	return &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		// Ensure Accept header supports streamable http per go-sdk issues.
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "text/event-stream,application/json")
		}
		return transport.RoundTrip(req)
	})}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
