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
	"github.com/coder/mcpbridge/upstream"
)

var testToken = &mcpcontext.Credentials{Token: "tok"}

func TestAirtable(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderAirtable, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewAirtable(config.Airtable{BaseURL: srvURL}, opts)
		},
		creds: testToken,
	})
}

func TestDropbox(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderDropbox, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewDropbox(config.Dropbox{BaseURL: srvURL + "/2"}, opts)
		},
		prefix: "/2",
		creds:  testToken,
	})
}

func TestFreshdesk(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderFreshdesk, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewFreshdesk(config.Freshdesk{BaseURL: srvURL + "/api/v2"}, opts)
		},
		prefix: "/api/v2",
		creds:  testToken,
	})
}

func TestGoogleMaps(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderGoogleMaps, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewGoogleMaps(config.GoogleMaps{BaseURL: srvURL}, opts)
		},
		creds: &mcpcontext.Credentials{Token: "maps-key"},
	})
}

func TestHubSpot(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderHubSpot, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewHubSpot(config.HubSpot{BaseURL: srvURL}, opts)
		},
		creds: testToken,
	})
}

func TestMindsDB(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderMindsDB, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewMindsDB(config.MindsDB{BaseURL: srvURL + "/api"}, opts)
		},
		prefix: "/api",
	})
}

func TestMiro(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderMiro, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewMiro(config.Miro{BaseURL: srvURL}, opts)
		},
		creds: testToken,
	})
}

func TestOutlook(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderOutlook, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewOutlook(config.Outlook{BaseURL: srvURL + "/v1.0"}, opts)
		},
		prefix: "/v1.0",
		creds:  testToken,
	})
}

func TestPDFco(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderPDFco, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewPDFco(config.PDFco{BaseURL: srvURL + "/v1"}, opts)
		},
		prefix: "/v1",
		creds:  testToken,
	})
}

func TestReddit(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderReddit, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewReddit(config.Reddit{BaseURL: srvURL, UserAgent: "test-agent/1.0"}, opts)
		},
		creds: testToken,
	})
}

func TestWordPress(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderWordPress, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewWordPress(config.WordPress{SiteURL: srvURL, Username: "editor"}, opts)
		},
		prefix: "/wp-json/wp/v2",
		creds:  testToken,
	})
}

func TestZoom(t *testing.T) {
	t.Parallel()
	runFixtures(t, config.ProviderZoom, fixtureCase{
		newProvider: func(_ *testing.T, srvURL string, opts upstream.Options) provider.Provider {
			return provider.NewZoom(config.Zoom{BaseURL: srvURL + "/v2"}, opts)
		},
		prefix: "/v2",
		creds:  testToken,
	})
}

// allProviders builds every built-in provider with placeholder configuration.
func allProviders(t *testing.T) []provider.Provider {
	t.Helper()

	cfg, err := config.LoadFromEnvironment(map[string]string{})
	require.NoError(t, err)

	out, err := provider.NewEnabled(cfg, upstream.Options{})
	require.NoError(t, err)
	require.Len(t, out, len(config.Providers))
	return out
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := provider.New("myspace", config.Config{}, upstream.Options{})
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestCredentialHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tool       string
		args       map[string]any
		creds      *mcpcontext.Credentials
		newFn      func(srvURL string, opts upstream.Options) provider.Provider
		wantPath   string
		wantHeader map[string]string
	}{
		{
			name:  "configured key is the fallback",
			tool:  "dropbox_get_space_usage",
			args:  map[string]any{},
			creds: nil,
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewDropbox(config.Dropbox{BaseURL: srvURL, Key: "configured"}, opts)
			},
			wantPath:   "/users/get_space_usage",
			wantHeader: map[string]string{"Authorization": "Bearer configured"},
		},
		{
			name:  "request token wins over configured key",
			tool:  "dropbox_get_space_usage",
			args:  map[string]any{},
			creds: &mcpcontext.Credentials{Token: "from-request"},
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewDropbox(config.Dropbox{BaseURL: srvURL, Key: "configured"}, opts)
			},
			wantPath:   "/users/get_space_usage",
			wantHeader: map[string]string{"Authorization": "Bearer from-request"},
		},
		{
			name:  "pdf.co api key header",
			tool:  "pdfco_pdf_info",
			args:  map[string]any{"url": "https://files.example.com/a.pdf"},
			creds: &mcpcontext.Credentials{Token: "pdf-key"},
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewPDFco(config.PDFco{BaseURL: srvURL}, opts)
			},
			wantPath:   "/pdf/info",
			wantHeader: map[string]string{"X-Api-Key": "pdf-key"},
		},
		{
			name:  "freshdesk key with X password",
			tool:  "freshdesk_get_ticket",
			args:  map[string]any{"ticket_id": 1},
			creds: &mcpcontext.Credentials{Token: "fd-key"},
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewFreshdesk(config.Freshdesk{BaseURL: srvURL}, opts)
			},
			wantPath:   "/tickets/1",
			wantHeader: map[string]string{"Authorization": basicAuth("fd-key", "X")},
		},
		{
			name:  "mindsdb without credentials",
			tool:  "mindsdb_list_projects",
			args:  map[string]any{},
			creds: nil,
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewMindsDB(config.MindsDB{BaseURL: srvURL}, opts)
			},
			wantPath:   "/projects",
			wantHeader: map[string]string{"Authorization": ""},
		},
		{
			name:  "reddit user agent",
			tool:  "reddit_get_user",
			args:  map[string]any{"username": "spez"},
			creds: testToken,
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewReddit(config.Reddit{BaseURL: srvURL, UserAgent: "linux:mcpbridge:v1 (by /u/bot)"}, opts)
			},
			wantPath:   "/user/spez/about",
			wantHeader: map[string]string{"User-Agent": "linux:mcpbridge:v1 (by /u/bot)", "Authorization": "Bearer tok"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(`[]`)))
			p := tc.newFn(srv.URL, testOptions(t, srv))

			ctx := mcpcontext.AsCredentials(t.Context(), tc.creds)
			callTool(t, ctx, p, tc.tool, tc.args)

			req := srv.MustLastRequest(t)
			assert.Equal(t, tc.wantPath, req.Path)
			for k, v := range tc.wantHeader {
				assert.Equal(t, v, req.Header.Get(k), k)
			}
		})
	}
}

func TestMissingCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tool    string
		newFn   func(srvURL string, opts upstream.Options) provider.Provider
		args    map[string]any
		wantErr string
	}{
		{
			tool: "hubspot_list_deals",
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewHubSpot(config.HubSpot{BaseURL: srvURL}, opts)
			},
			wantErr: "hubspot: missing credentials",
		},
		{
			tool: "googlemaps_geocode",
			newFn: func(srvURL string, opts upstream.Options) provider.Provider {
				return provider.NewGoogleMaps(config.GoogleMaps{BaseURL: srvURL}, opts)
			},
			args:    map[string]any{"address": "Berlin"},
			wantErr: "googlemaps: missing credentials",
		},
		{
			tool: "freshdesk_list_contacts",
			newFn: func(_ string, opts upstream.Options) provider.Provider {
				return provider.NewFreshdesk(config.Freshdesk{Key: "fd-key"}, opts)
			},
			wantErr: "freshdesk: no helpdesk domain: missing credentials",
		},
		{
			tool: "wordpress_list_categories",
			newFn: func(_ string, opts upstream.Options) provider.Provider {
				return provider.NewWordPress(config.WordPress{Username: "editor", Key: "app-pass"}, opts)
			},
			wantErr: "wordpress: no site URL: missing credentials",
		},
	}

	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			t.Parallel()

			srv := testutil.NewUpstreamServer(t, t.Context())
			p := tc.newFn(srv.URL, testOptions(t, srv))

			args := tc.args
			if args == nil {
				args = map[string]any{}
			}
			res, outcome := callTool(t, t.Context(), p, tc.tool, args)
			require.True(t, res.IsError)
			assert.Equal(t, tc.wantErr, resultText(t, res))
			assert.ErrorIs(t, outcome.Err(), upstream.ErrMissingCredentials)
			assert.False(t, outcome.Invalid())
			assert.Zero(t, srv.CallCount())
		})
	}
}
