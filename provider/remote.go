package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/coder/mcpbridge/mcp"
	"github.com/coder/mcpbridge/upstream"
)

// Remote re-exports the tools of remote MCP servers. Tools are named
// <server>_<tool> and only known once [Remote.Init] has run.
type Remote struct {
	servers []string
	proxy   mcp.ServerProxier
}

var (
	_ Provider    = &Remote{}
	_ Initializer = &Remote{}
)

// NewRemote creates a provider for servers, which maps a server name to its
// streamable HTTP URL. tokens optionally holds a bearer token per server name.
// The allow and deny lists match re-exported tool names.
func NewRemote(servers, tokens map[string]string, allow, deny *regexp.Regexp, opts upstream.Options) (*Remote, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	names := slices.Sorted(maps.Keys(servers))
	proxiers := make(map[string]mcp.ServerProxier, len(servers))
	for _, name := range names {
		var headers map[string]string
		if tok := tokens[name]; tok != "" {
			headers = map[string]string{"Authorization": "Bearer " + tok}
		}
		proxy, err := mcp.NewStreamableHTTPServerProxy(name, servers[name], headers, allow, deny, opts.Logger, tracer)
		if err != nil {
			return nil, fmt.Errorf("remote server %q: %w", name, err)
		}
		proxiers[name] = proxy
	}
	return &Remote{servers: names, proxy: mcp.NewServerProxyManager(proxiers)}, nil
}

func (p *Remote) Name() string {
	return ProviderRemote
}

func (p *Remote) BaseURL() string {
	return ""
}

func (p *Remote) Instructions() string {
	return fmt.Sprintf("Tools of the remote MCP servers %v, prefixed with the server name.", p.servers)
}

// Init connects to every server. Servers which fail are logged by the caller
// and contribute no tools.
func (p *Remote) Init(ctx context.Context) error {
	return p.proxy.Init(ctx)
}

func (p *Remote) Shutdown(ctx context.Context) error {
	return p.proxy.Shutdown(ctx)
}

func (p *Remote) Tools() []server.ServerTool {
	remote := p.proxy.ListTools()
	out := make([]server.ServerTool, 0, len(remote))
	for _, t := range remote {
		out = append(out, server.ServerTool{
			Tool:    mcplib.NewToolWithRawSchema(t.ID, t.Description, t.RawInputSchema()),
			Handler: p.handler(t.ID),
		})
	}
	return out
}

func (p *Remote) handler(id string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		res, err := p.proxy.CallTool(ctx, id, args)
		if err != nil {
			recordOutcome(ctx, err, false)
			return mcplib.NewToolResultError(err.Error()), nil
		}

		out := convertRemoteResult(res)
		if out.IsError {
			recordOutcome(ctx, fmt.Errorf("remote tool %s failed", id), false)
		} else {
			recordOutcome(ctx, nil, false)
		}
		return out, nil
	}
}

// convertRemoteResult translates a result of the go-sdk client into the
// server library's types. Content kinds without a counterpart are passed on
// as their JSON encoding.
func convertRemoteResult(res *gomcp.CallToolResult) *mcplib.CallToolResult {
	out := &mcplib.CallToolResult{
		IsError:           res.IsError,
		StructuredContent: res.StructuredContent,
		Content:           make([]mcplib.Content, 0, len(res.Content)),
	}
	for _, c := range res.Content {
		switch c := c.(type) {
		case *gomcp.TextContent:
			out.Content = append(out.Content, mcplib.NewTextContent(c.Text))
		case *gomcp.ImageContent:
			out.Content = append(out.Content, mcplib.NewImageContent(base64.StdEncoding.EncodeToString(c.Data), c.MIMEType))
		case *gomcp.AudioContent:
			out.Content = append(out.Content, mcplib.NewAudioContent(base64.StdEncoding.EncodeToString(c.Data), c.MIMEType))
		default:
			raw, err := json.Marshal(c)
			if err != nil {
				raw = []byte(fmt.Sprintf("unsupported content %T", c))
			}
			out.Content = append(out.Content, mcplib.NewTextContent(string(raw)))
		}
	}
	return out
}
