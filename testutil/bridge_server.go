package testutil

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/coder/mcpbridge"
)

type BridgeConfig struct {
	Ctx context.Context

	// Exactly one of Handler or Providers must be set.
	Handler   http.Handler
	Providers []mcpbridge.Provider

	Options mcpbridge.Options
}

type BridgeServer struct {
	*httptest.Server
	Bridge *mcpbridge.ServerBridge
}

// NewBridgeServer serves a bridge over HTTP. The bridge is shut down on
// cleanup.
func NewBridgeServer(t testing.TB, cfg BridgeConfig) *BridgeServer {
	t.Helper()

	ctx := cfg.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	out := &BridgeServer{}
	if cfg.Handler == nil {
		if len(cfg.Providers) == 0 {
			t.Fatalf("BridgeConfig: must set either Handler or Providers")
		}

		bridge, err := mcpbridge.NewServerBridge(ctx, cfg.Providers, cfg.Options)
		mustNoError(t, err, "create ServerBridge")
		out.Bridge = bridge
		cfg.Handler = bridge
	}

	srv := httptest.NewUnstartedServer(cfg.Handler)
	srv.Config.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	srv.Start()
	out.Server = srv

	// Registered after the bridge, so the server is closed first.
	t.Cleanup(func() {
		if out.Bridge != nil {
			sctx, cancel := context.WithTimeout(context.Background(), WaitShort)
			defer cancel()
			_ = out.Bridge.Shutdown(sctx)
		}
		srv.Close()
	})

	return out
}

// Transports an MCP client can use against the bridge.
const (
	TransportStreamable = "streamable"
	TransportSSE        = "sse"
)

// MCPURL returns the URL of provider's endpoint for the given transport.
func (b *BridgeServer) MCPURL(provider, transportName string) string {
	if transportName == TransportSSE {
		return b.URL + "/" + provider + "/sse"
	}
	return b.URL + "/" + provider + "/mcp"
}

// NewMCPClient returns an initialized MCP client for provider. headers are
// sent with every request. The client is closed on cleanup.
func (b *BridgeServer) NewMCPClient(t testing.TB, ctx context.Context, provider, transportName string, headers map[string]string) *client.Client {
	t.Helper()

	var (
		c   *client.Client
		err error
	)
	switch transportName {
	case TransportSSE:
		c, err = client.NewSSEMCPClient(b.MCPURL(provider, transportName), transport.WithHeaders(headers))
	case TransportStreamable:
		c, err = client.NewStreamableHttpClient(b.MCPURL(provider, transportName), transport.WithHTTPHeaders(headers))
	default:
		t.Fatalf("unknown transport %q", transportName)
	}
	mustNoError(t, err, "create %s client", transportName)
	t.Cleanup(func() { _ = c.Close() })

	mustNoError(t, c.Start(ctx), "start %s client", transportName)

	req := mcplib.InitializeRequest{}
	req.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcplib.Implementation{Name: "mcpbridge-test", Version: "1.0.0"}
	_, err = c.Initialize(ctx, req)
	mustNoError(t, err, "initialize %s client", transportName)

	return c
}

// CallTool calls a tool through c and fails the test on protocol errors.
func CallTool(t testing.TB, ctx context.Context, c *client.Client, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()

	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	mustNoError(t, err, "call tool %q", name)
	return res
}

// ResultText concatenates the text content of res.
func ResultText(res *mcplib.CallToolResult) string {
	var out string
	for _, c := range res.Content {
		if tc, ok := mcplib.AsTextContent(c); ok {
			out += tc.Text
		}
	}
	return out
}
