package provider_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/testutil"
)

// tokenServer answers token requests on tokenPath and API calls with apiBody.
func tokenServer(t *testing.T, tokenPath string, apiBody []byte) *testutil.UpstreamServer {
	t.Helper()
	return testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponseFunc(func(_ int, r *http.Request) (int, []byte) {
		if r.URL.Path == tokenPath {
			return http.StatusOK, []byte(`{"access_token": "app-token", "token_type": "bearer", "expires_in": 3599}`)
		}
		return http.StatusOK, apiBody
	}))
}

func requestsTo(srv *testutil.UpstreamServer, path string) []testutil.UpstreamRequest {
	var out []testutil.UpstreamRequest
	for _, r := range srv.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func TestZoomServerToServerOAuth(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, "/oauth/token", []byte(`{"id": 85746065, "topic": "Standup", "type": 2}`))
	p := provider.NewZoom(config.Zoom{
		BaseURL:      srv.URL + "/v2",
		AccountID:    "acct-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TokenURL:     srv.URL + "/oauth/token",
	}, testOptions(t, srv))

	for range 2 {
		res, outcome := callTool(t, t.Context(), p, "zoom_get_meeting", map[string]any{"meeting_id": "85746065"})
		require.False(t, res.IsError, resultText(t, res))
		require.NoError(t, outcome.Err())
	}

	tokenReqs := requestsTo(srv, "/oauth/token")
	require.Len(t, tokenReqs, 1, "the token is cached")
	assert.Equal(t, basicAuth("client-1", "secret-1"), tokenReqs[0].Header.Get("Authorization"))
	form, err := url.ParseQuery(string(tokenReqs[0].Body))
	require.NoError(t, err)
	assert.Equal(t, "account_credentials", form.Get("grant_type"))
	assert.Equal(t, "acct-1", form.Get("account_id"))

	apiReqs := requestsTo(srv, "/v2/meetings/85746065")
	require.Len(t, apiReqs, 2)
	for _, r := range apiReqs {
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
	}
}

func TestZoomRequestTokenSkipsOAuth(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, "/oauth/token", []byte(`{"id": 1}`))
	p := provider.NewZoom(config.Zoom{
		BaseURL:   srv.URL,
		AccountID: "acct-1",
		ClientID:  "client-1",
		TokenURL:  srv.URL + "/oauth/token",
	}, testOptions(t, srv))

	ctx := mcpcontext.AsCredentials(t.Context(), &mcpcontext.Credentials{Token: "user-token"})
	callTool(t, ctx, p, "zoom_get_meeting", map[string]any{"meeting_id": "1"})

	assert.Empty(t, requestsTo(srv, "/oauth/token"))
	assert.Equal(t, "Bearer user-token", srv.MustLastRequest(t).Header.Get("Authorization"))
}

func TestOutlookAppOnlyMailbox(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, "/tenant-1/oauth2/v2.0/token", []byte(`{"value": []}`))
	p := provider.NewOutlook(config.Outlook{
		BaseURL:      srv.URL + "/v1.0",
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TokenURL:     srv.URL + "/tenant-1/oauth2/v2.0/token",
		UserID:       "ops@contoso.com",
	}, testOptions(t, srv))

	res, outcome := callTool(t, t.Context(), p, "outlook_list_messages", map[string]any{})
	require.False(t, res.IsError, resultText(t, res))
	require.NoError(t, outcome.Err())
	assert.JSONEq(t, `{"messages": []}`, resultText(t, res))

	tokenReqs := requestsTo(srv, "/tenant-1/oauth2/v2.0/token")
	require.Len(t, tokenReqs, 1)
	form, err := url.ParseQuery(string(tokenReqs[0].Body))
	require.NoError(t, err)
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "https://graph.microsoft.com/.default", form.Get("scope"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.Equal(t, "secret-1", form.Get("client_secret"))

	req := srv.MustLastRequest(t)
	assert.Equal(t, "/v1.0/users/ops@contoso.com/mailFolders/inbox/messages", req.Path)
	assert.Equal(t, "Bearer app-token", req.Header.Get("Authorization"))
}

func TestOutlookTokenEndpointFailure(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusUnauthorized,
		[]byte(`{"error": "invalid_client", "error_description": "AADSTS7000215: Invalid client secret provided."}`)))
	p := provider.NewOutlook(config.Outlook{
		BaseURL:  srv.URL,
		TenantID: "tenant-1",
		ClientID: "client-1",
		TokenURL: srv.URL + "/token",
	}, testOptions(t, srv))

	res, outcome := callTool(t, t.Context(), p, "outlook_list_events", map[string]any{})
	require.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "outlook: obtain oauth2 token")
	assert.Error(t, outcome.Err())
	require.Equal(t, 1, srv.CallCount(), "only the token endpoint is called")
	assert.Equal(t, "/token", srv.MustLastRequest(t).Path)
}
