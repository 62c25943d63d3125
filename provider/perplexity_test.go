package provider_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/testutil"
)

func completionJSON(content, extra string) []byte {
	return []byte(`{
  "id": "c0f3a1",
  "object": "chat.completion",
  "created": 1709294400,
  "model": "sonar",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": ` + content + `}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 40, "total_tokens": 52}` + extra + `
}`)
}

func TestPerplexity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		response []byte
		wantText string
		check    func(t *testing.T, body gjson.Result)
	}{
		{
			name:     "ask with citations",
			tool:     "perplexity_ask",
			args:     map[string]any{"question": "What is the latest Go release?", "system_prompt": "Be brief.", "max_tokens": 200},
			response: completionJSON(`"Go 1.22 [1]."`, `, "citations": ["https://go.dev/doc/go1.22", "https://go.dev/blog"]`),
			wantText: "Go 1.22 [1].\n\nCitations:\n[1] https://go.dev/doc/go1.22\n[2] https://go.dev/blog",
			check: func(t *testing.T, body gjson.Result) {
				assert.Equal(t, "sonar", body.Get("model").String())
				assert.EqualValues(t, 200, body.Get("max_tokens").Int())
				assert.Equal(t, "system", body.Get("messages.0.role").String())
				assert.Equal(t, "Be brief.", body.Get("messages.0.content").String())
				assert.Equal(t, "user", body.Get("messages.1.role").String())
				assert.Equal(t, "What is the latest Go release?", body.Get("messages.1.content").String())
				assert.False(t, body.Get("temperature").Exists())
			},
		},
		{
			name:     "research with filters",
			tool:     "perplexity_research",
			args:     map[string]any{"query": "state of WebAssembly", "recency": "month", "domains": []any{"github.com", "-reddit.com"}},
			response: completionJSON(`"A long report."`, `, "search_results": [{"title": "wasm", "url": "https://github.com/WebAssembly"}]`),
			wantText: "A long report.\n\nCitations:\n[1] https://github.com/WebAssembly",
			check: func(t *testing.T, body gjson.Result) {
				assert.Equal(t, "sonar-deep-research", body.Get("model").String())
				assert.Equal(t, "month", body.Get("search_recency_filter").String())
				assert.Equal(t, `["github.com","-reddit.com"]`, body.Get("search_domain_filter").Raw)
			},
		},
		{
			name:     "reason hides thinking",
			tool:     "perplexity_reason",
			args:     map[string]any{"question": "Is 221 prime?"},
			response: completionJSON(`"<think>\n221 = 13 * 17\n</think>\nNo, 221 = 13 × 17."`, ""),
			wantText: "No, 221 = 13 × 17.",
			check: func(t *testing.T, body gjson.Result) {
				assert.Equal(t, "sonar-reasoning-pro", body.Get("model").String())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, tc.response))
			p := provider.NewPerplexity(config.Perplexity{BaseURL: srv.URL, Key: "pplx-key"}, testOptions(t, srv))

			res, outcome := callTool(t, t.Context(), p, tc.tool, tc.args)
			require.False(t, res.IsError, resultText(t, res))
			require.NoError(t, outcome.Err())
			assert.Equal(t, tc.wantText, resultText(t, res))

			require.Equal(t, 1, srv.CallCount(), "requests are never retried")
			req := srv.MustLastRequest(t)
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, "/chat/completions", req.Path)
			assert.Equal(t, "Bearer pplx-key", req.Header.Get("Authorization"))
			tc.check(t, gjson.ParseBytes(req.Body))
		})
	}
}

func TestPerplexityUpstreamError(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusUnauthorized,
		[]byte(`{"error":{"message":"Invalid API key","type":"invalid_api_key","code":401}}`)))
	p := provider.NewPerplexity(config.Perplexity{BaseURL: srv.URL}, testOptions(t, srv))

	ctx := mcpcontext.AsCredentials(t.Context(), &mcpcontext.Credentials{Token: "bad-key"})
	res, outcome := callTool(t, ctx, p, "perplexity_ask", map[string]any{"question": "hi"})
	require.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "upstream error: 401 Unauthorized: ")
	assert.Contains(t, resultText(t, res), "Invalid API key")
	assert.Error(t, outcome.Err())

	assert.Equal(t, 1, srv.CallCount())
	assert.Equal(t, "Bearer bad-key", srv.MustLastRequest(t).Header.Get("Authorization"))
}

func TestPerplexityMissingKey(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context())
	p := provider.NewPerplexity(config.Perplexity{BaseURL: srv.URL}, testOptions(t, srv))

	res, _ := callTool(t, t.Context(), p, "perplexity_ask", map[string]any{"question": "hi"})
	require.True(t, res.IsError)
	assert.Equal(t, "perplexity: missing credentials", resultText(t, res))
	assert.Zero(t, srv.CallCount())
}
