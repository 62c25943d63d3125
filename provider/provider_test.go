package provider_test

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/fixtures"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/testutil"
	"github.com/coder/mcpbridge/upstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixtureCase describes how to run a provider's txtar fixtures.
type fixtureCase struct {
	// newProvider builds the provider against the fake upstream at srvURL.
	newProvider func(t *testing.T, srvURL string, opts upstream.Options) provider.Provider
	// prefix is the path of the provider's API below srvURL; fixture paths
	// are relative to it.
	prefix string
	creds  *mcpcontext.Credentials
}

func testOptions(t *testing.T, srv *testutil.UpstreamServer) upstream.Options {
	t.Helper()
	return upstream.Options{
		Logger:    slogtest.Make(t, nil),
		Transport: srv.Client().Transport,
	}
}

func findTool(t *testing.T, p provider.Provider, name string) server.ServerTool {
	t.Helper()
	for _, tool := range p.Tools() {
		if tool.Tool.Name == name {
			return tool
		}
	}
	t.Fatalf("provider %q has no tool %q", p.Name(), name)
	return server.ServerTool{}
}

func callTool(t *testing.T, ctx context.Context, p provider.Provider, name string, args map[string]any) (*mcp.CallToolResult, *provider.CallOutcome) {
	t.Helper()

	tool := findTool(t, p, name)
	ctx, outcome := provider.WithCallOutcome(ctx)
	res, err := tool.Handler(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err, "tool handlers report failures as results")
	require.NotNil(t, res)
	return res, outcome
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func runFixtures(t *testing.T, providerName string, fc fixtureCase) {
	t.Helper()

	all, err := fixtures.Tools(providerName)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	for _, raw := range all {
		t.Run(raw.Name, func(t *testing.T) {
			t.Parallel()

			fix := testutil.MustToolFixture(t, raw.Data)
			status, body, err := fix.Response()
			require.NoError(t, err)

			srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(status, body))
			p := fc.newProvider(t, srv.URL, testOptions(t, srv))

			ctx := mcpcontext.AsCredentials(t.Context(), fc.creds)
			res, outcome := callTool(t, ctx, p, providerName+"_"+raw.Tool, fix.MustArgs(t))
			text := resultText(t, res)

			want, ok, err := fix.Request()
			require.NoError(t, err)
			if ok {
				got := srv.MustLastRequest(t)
				require.Equal(t, want.Method, got.Method)
				require.Equal(t, fc.prefix+want.Path, got.Path)
				require.Equal(t, want.Query, got.Query)
				requireBody(t, want.Body, got)
			}

			wantText, isError, ok := fix.Result()
			if !ok {
				return
			}
			if isError {
				require.True(t, res.IsError, "expected an error result, got %s", text)
				require.Contains(t, text, wantText)
				require.Error(t, outcome.Err())
				if strings.HasPrefix(wantText, "invalid argument") {
					require.True(t, outcome.Invalid())
					require.Zero(t, srv.CallCount(), "invalid calls must not reach the upstream")
				}
				return
			}

			require.False(t, res.IsError, "unexpected error result: %s", text)
			require.NoError(t, outcome.Err())
			if json.Valid([]byte(wantText)) {
				require.JSONEq(t, wantText, text)
			} else {
				require.Equal(t, wantText, text)
			}
		})
	}
}

func requireBody(t *testing.T, want []byte, got testutil.UpstreamRequest) {
	t.Helper()

	switch {
	case len(want) == 0:
		require.Empty(t, got.Body)
	case strings.HasPrefix(got.Header.Get("Content-Type"), "application/x-www-form-urlencoded"):
		wantForm, err := url.ParseQuery(string(want))
		require.NoError(t, err)
		gotForm, err := url.ParseQuery(string(got.Body))
		require.NoError(t, err)
		require.Equal(t, wantForm, gotForm)
	case json.Valid(want):
		require.JSONEq(t, string(want), string(got.Body))
	default:
		require.Equal(t, string(want), string(got.Body))
	}
}

func TestToolNamesArePrefixed(t *testing.T) {
	t.Parallel()

	for _, p := range allProviders(t) {
		seen := map[string]struct{}{}
		for _, tool := range p.Tools() {
			require.True(t, strings.HasPrefix(tool.Tool.Name, p.Name()+"_"), tool.Tool.Name)
			require.NotEmpty(t, tool.Tool.Description, tool.Tool.Name)
			require.NotNil(t, tool.Handler, tool.Tool.Name)
			_, dup := seen[tool.Tool.Name]
			require.False(t, dup, "duplicate tool %q", tool.Tool.Name)
			seen[tool.Tool.Name] = struct{}{}
		}
		require.NotEmpty(t, p.Instructions(), p.Name())
	}
}
