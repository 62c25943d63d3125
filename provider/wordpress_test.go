package provider_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/testutil"
)

func TestWordPressSiteFromCredentials(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK,
		[]byte(`{"id": 7, "title": {"rendered": "Hello"}, "status": "publish"}`)))
	// The configured site must not be used when the caller names one.
	p := provider.NewWordPress(config.WordPress{SiteURL: "https://unused.example.com", Username: "admin", Key: "cfg-pass"}, testOptions(t, srv))

	ctx := mcpcontext.AsCredentials(t.Context(), &mcpcontext.Credentials{
		Token: "abcd efgh ijkl",
		Values: map[string]string{
			provider.WordPressSiteURL:  srv.URL + "/",
			provider.WordPressUsername: "editor",
		},
	})
	res, outcome := callTool(t, ctx, p, "wordpress_get_post", map[string]any{"post_id": 7})
	require.False(t, res.IsError, resultText(t, res))
	require.NoError(t, outcome.Err())

	req := srv.MustLastRequest(t)
	assert.Equal(t, "/wp-json/wp/v2/posts/7", req.Path)
	assert.Equal(t, basicAuth("editor", "abcd efgh ijkl"), req.Header.Get("Authorization"))
}

func TestWordPressConfiguredCredentials(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(`[]`)))
	p := provider.NewWordPress(config.WordPress{SiteURL: srv.URL, Username: "admin", Key: "cfg-pass"}, testOptions(t, srv))

	res, _ := callTool(t, t.Context(), p, "wordpress_list_categories", map[string]any{})
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, basicAuth("admin", "cfg-pass"), srv.MustLastRequest(t).Header.Get("Authorization"))
}
