package mcpbridge_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coder/mcpbridge"
	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/metrics"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/testutil"
	"github.com/coder/mcpbridge/upstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProvider echoes the caller's credentials and has tools which fail and
// panic.
type fakeProvider struct {
	name string

	initErr   error
	inits     atomic.Int32
	shutdowns atomic.Int32
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) BaseURL() string      { return "" }
func (f *fakeProvider) Instructions() string { return "Tools for tests." }

func (f *fakeProvider) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcplib.NewTool(f.name+"_whoami", mcplib.WithDescription("Returns the caller's credentials.")),
			Handler: func(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				return mcplib.NewToolResultText(mcpcontext.TokenFromContext(ctx) + "|" + mcpcontext.ValueFromContext(ctx, "site_url")), nil
			},
		},
		{
			Tool: mcplib.NewTool(f.name+"_fail", mcplib.WithDescription("Always fails.")),
			Handler: func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				return mcplib.NewToolResultError("upstream error: 502 Bad Gateway"), nil
			},
		},
		{
			Tool: mcplib.NewTool(f.name+"_panic", mcplib.WithDescription("Always panics.")),
			Handler: func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				panic("boom")
			},
		},
		{
			Tool: mcplib.NewTool(f.name+"_delete_everything", mcplib.WithDescription("Never exposed in tests.")),
			Handler: func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				return mcplib.NewToolResultText("deleted"), nil
			},
		},
	}
}

type fakeInitProvider struct {
	*fakeProvider
}

func (f fakeInitProvider) Init(context.Context) error {
	f.inits.Add(1)
	return f.initErr
}

func (f fakeInitProvider) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

func authBlob(t *testing.T, json string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(json))
}

func newBridge(t *testing.T, opts mcpbridge.Options, providers ...mcpbridge.Provider) *testutil.BridgeServer {
	t.Helper()
	if len(providers) == 0 {
		providers = []mcpbridge.Provider{&fakeProvider{name: "fake"}}
	}
	opts.Logger = slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	return testutil.NewBridgeServer(t, testutil.BridgeConfig{
		Ctx:       t.Context(),
		Providers: providers,
		Options:   opts,
	})
}

func TestBridgeTransports(t *testing.T) {
	t.Parallel()

	for _, transport := range []string{testutil.TransportStreamable, testutil.TransportSSE} {
		t.Run(transport, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
			t.Cleanup(cancel)

			srv := newBridge(t, mcpbridge.Options{ToolDenylist: regexp.MustCompile(`_delete_`)})
			client := srv.NewMCPClient(t, ctx, "fake", transport, map[string]string{
				mcpbridge.DefaultAuthHeader: authBlob(t, `{"access_token": "tok-1", "site_url": "https://blog.example.com"}`),
			})

			tools, err := client.ListTools(ctx, mcplib.ListToolsRequest{})
			require.NoError(t, err)
			var names []string
			for _, tool := range tools.Tools {
				names = append(names, tool.Name)
			}
			assert.ElementsMatch(t, []string{"fake_fail", "fake_panic", "fake_whoami"}, names)

			res := testutil.CallTool(t, ctx, client, "fake_whoami", map[string]any{})
			require.False(t, res.IsError)
			assert.Equal(t, "tok-1|https://blog.example.com", testutil.ResultText(res))

			res = testutil.CallTool(t, ctx, client, "fake_fail", map[string]any{})
			require.True(t, res.IsError)
			assert.Equal(t, "upstream error: 502 Bad Gateway", testutil.ResultText(res))
		})
	}
}

func TestBridgeAuthorizationFallback(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
	t.Cleanup(cancel)

	srv := newBridge(t, mcpbridge.Options{AuthHeader: "X-Vendor-Auth"})

	client := srv.NewMCPClient(t, ctx, "fake", testutil.TransportStreamable, map[string]string{
		"Authorization": "Bearer from-authorization",
	})
	res := testutil.CallTool(t, ctx, client, "fake_whoami", map[string]any{})
	assert.Equal(t, "from-authorization|", testutil.ResultText(res))

	client = srv.NewMCPClient(t, ctx, "fake", testutil.TransportStreamable, map[string]string{
		"Authorization": "Bearer from-authorization",
		"X-Vendor-Auth": "from-custom-header",
	})
	res = testutil.CallTool(t, ctx, client, "fake_whoami", map[string]any{})
	assert.Equal(t, "from-custom-header|", testutil.ResultText(res))
}

func TestBridgeCredentialsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
	t.Cleanup(cancel)

	srv := newBridge(t, mcpbridge.Options{})

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		token := fmt.Sprintf("token-%d", i)
		client := srv.NewMCPClient(t, ctx, "fake", testutil.TransportStreamable, map[string]string{
			mcpbridge.DefaultAuthHeader: token,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				req := mcplib.CallToolRequest{}
				req.Params.Name = "fake_whoami"
				res, err := client.CallTool(ctx, req)
				if err != nil {
					errs <- err
					return
				}
				if got := testutil.ResultText(res); got != token+"|" {
					errs <- fmt.Errorf("caller with %q saw %q", token, got)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestBridgeHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := newBridge(t, mcpbridge.Options{})

	tests := []struct {
		name     string
		method   string
		path     string
		header   string
		wantCode int
	}{
		{name: "streamable GET", method: http.MethodGet, path: "/fake/mcp", wantCode: http.StatusMethodNotAllowed},
		{name: "streamable DELETE", method: http.MethodDelete, path: "/fake/mcp", wantCode: http.StatusMethodNotAllowed},
		{name: "unknown provider", method: http.MethodPost, path: "/myspace/mcp", wantCode: http.StatusNotFound},
		{name: "unknown route", method: http.MethodGet, path: "/fake/tools", wantCode: http.StatusNotFound},
		{name: "root", method: http.MethodGet, path: "/", wantCode: http.StatusNotFound},
		{name: "empty auth blob", method: http.MethodPost, path: "/fake/mcp", header: authBlob(t, `{}`), wantCode: http.StatusUnauthorized},
		{name: "auth blob without scalars", method: http.MethodPost, path: "/fake/sse", header: authBlob(t, `{"scopes": ["a"]}`), wantCode: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, err := http.NewRequestWithContext(t.Context(), tc.method, srv.URL+tc.path, strings.NewReader(`{}`))
			require.NoError(t, err)
			if tc.header != "" {
				req.Header.Set(mcpbridge.DefaultAuthHeader, tc.header)
			}

			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			t.Cleanup(func() { _ = resp.Body.Close() })
			assert.Equal(t, tc.wantCode, resp.StatusCode)
		})
	}
}

func TestBridgeToolMetrics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
	t.Cleanup(cancel)

	m := mcpbridge.NewMetrics(prometheus.NewRegistry())
	srv := newBridge(t, mcpbridge.Options{Metrics: m})
	client := srv.NewMCPClient(t, ctx, "fake", testutil.TransportStreamable, nil)

	testutil.CallTool(t, ctx, client, "fake_whoami", map[string]any{})
	testutil.CallTool(t, ctx, client, "fake_whoami", map[string]any{})
	testutil.CallTool(t, ctx, client, "fake_fail", map[string]any{})

	res := testutil.CallTool(t, ctx, client, "fake_panic", map[string]any{})
	require.True(t, res.IsError)
	assert.Equal(t, "internal error in tool fake_panic", testutil.ResultText(res))

	assert.Equal(t, 2.0, promtest.ToFloat64(m.ToolCallCount.WithLabelValues("fake", "fake_whoami", metrics.ToolCallStatusOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ToolCallCount.WithLabelValues("fake", "fake_fail", metrics.ToolCallStatusError)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ToolCallCount.WithLabelValues("fake", "fake_panic", metrics.ToolCallStatusPanic)))
	assert.Zero(t, promtest.ToFloat64(m.ToolCallsInflight.WithLabelValues("fake")))
	assert.Positive(t, promtest.ToFloat64(m.HTTPRequestCount.WithLabelValues("fake", mcpbridge.TransportStreamable, "200")))

	// The server still serves calls after a panic.
	res = testutil.CallTool(t, ctx, client, "fake_whoami", map[string]any{})
	assert.False(t, res.IsError)
}

func TestBridgeProviderEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
	t.Cleanup(cancel)

	upstreamSrv := testutil.NewUpstreamServer(t, ctx, testutil.WithUpstreamResponse(http.StatusOK, []byte(`{"results": []}`)))
	hubspot := provider.NewHubSpot(config.HubSpot{BaseURL: upstreamSrv.URL}, upstream.Options{
		Logger:    slogtest.Make(t, nil),
		Transport: upstreamSrv.Client().Transport,
	})

	m := mcpbridge.NewMetrics(prometheus.NewRegistry())
	srv := newBridge(t, mcpbridge.Options{Metrics: m}, hubspot)
	client := srv.NewMCPClient(t, ctx, config.ProviderHubSpot, testutil.TransportSSE, map[string]string{
		mcpbridge.DefaultAuthHeader: "Bearer hs-token",
	})

	res := testutil.CallTool(t, ctx, client, "hubspot_list_contacts", map[string]any{"limit": 5})
	require.False(t, res.IsError, testutil.ResultText(res))
	req := upstreamSrv.MustLastRequest(t)
	assert.Equal(t, "Bearer hs-token", req.Header.Get("Authorization"))

	res = testutil.CallTool(t, ctx, client, "hubspot_search_contacts", map[string]any{})
	require.True(t, res.IsError)
	assert.Contains(t, testutil.ResultText(res), `invalid argument "query"`)
	assert.Equal(t, 1, upstreamSrv.CallCount(), "invalid calls never reach the upstream")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.ToolCallCount.WithLabelValues("hubspot", "hubspot_search_contacts", metrics.ToolCallStatusInvalid)))
}

func TestBridgeInitializersAndShutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
	t.Cleanup(cancel)

	healthy := fakeInitProvider{&fakeProvider{name: "healthy"}}
	broken := fakeInitProvider{&fakeProvider{name: "broken", initErr: errors.New("connection refused")}}

	srv := newBridge(t, mcpbridge.Options{}, healthy, broken)
	assert.EqualValues(t, 1, healthy.inits.Load())
	assert.EqualValues(t, 1, broken.inits.Load())

	// A provider whose initialization failed is still served.
	client := srv.NewMCPClient(t, ctx, "broken", testutil.TransportStreamable, map[string]string{mcpbridge.DefaultAuthHeader: "tok"})
	res := testutil.CallTool(t, ctx, client, "broken_whoami", map[string]any{})
	assert.Equal(t, "tok|", testutil.ResultText(res))

	// An open SSE stream must not block shutdown.
	srv.NewMCPClient(t, ctx, "healthy", testutil.TransportSSE, nil)

	require.NoError(t, srv.Bridge.Shutdown(ctx))
	require.NoError(t, srv.Bridge.Shutdown(ctx), "shutdown is idempotent")
	assert.EqualValues(t, 1, healthy.shutdowns.Load())
	assert.EqualValues(t, 1, broken.shutdowns.Load())
	assert.Zero(t, srv.Bridge.InflightRequests())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/healthy/mcp", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBridgeDuplicateProvider(t *testing.T) {
	t.Parallel()

	_, err := mcpbridge.NewServerBridge(t.Context(), []mcpbridge.Provider{
		&fakeProvider{name: "fake"},
		&fakeProvider{name: "fake"},
	}, mcpbridge.Options{Logger: slogtest.Make(t, nil)})
	require.ErrorContains(t, err, `duplicate provider "fake"`)
}
