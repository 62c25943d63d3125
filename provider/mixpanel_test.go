package provider_test

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/testutil"
)

func newMixpanel(t *testing.T, srv *testutil.UpstreamServer, cfg config.Mixpanel) (*provider.Mixpanel, *quartz.Mock) {
	t.Helper()

	clk := quartz.NewMock(t)
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	opts := testOptions(t, srv)
	opts.Clock = clk
	cfg.IngestionURL = srv.URL
	cfg.QueryURL = srv.URL + "/api"
	return provider.NewMixpanel(cfg, opts), clk
}

func TestMixpanelTrackEvent(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(`{"status": 1, "error": null}`)))
	p, _ := newMixpanel(t, srv, config.Mixpanel{ProjectToken: "proj-token"})

	res, outcome := callTool(t, t.Context(), p, "mixpanel_track_event", map[string]any{
		"event":       "Signed Up",
		"distinct_id": "user-1",
		"properties":  map[string]any{"plan": "pro", "token": "ignored"},
	})
	require.False(t, res.IsError, resultText(t, res))
	require.NoError(t, outcome.Err())

	req := srv.MustLastRequest(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/track", req.Path)
	assert.Equal(t, "1", req.Query.Get("verbose"))
	assert.Empty(t, req.Header.Get("Authorization"))

	body := gjson.ParseBytes(req.Body)
	require.True(t, body.IsArray())
	assert.Equal(t, "Signed Up", body.Get("0.event").String())
	props := body.Get("0.properties")
	assert.Equal(t, "proj-token", props.Get("token").String(), "configured token wins over properties")
	assert.Equal(t, "user-1", props.Get("distinct_id").String())
	assert.Equal(t, "pro", props.Get("plan").String())
	assert.EqualValues(t, 1709294400, props.Get("time").Int())

	insertID := props.Get(`\$insert_id`).String()
	require.NotEmpty(t, insertID)
	assert.Equal(t, insertID, gjson.Get(resultText(t, res), "insert_id").String())
}

func TestMixpanelTrackEventExplicitTime(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(`{"status": 1}`)))
	p, _ := newMixpanel(t, srv, config.Mixpanel{})

	ctx := mcpcontext.AsCredentials(t.Context(), &mcpcontext.Credentials{
		Token:  "api-secret",
		Values: map[string]string{provider.MixpanelProjectToken: "ctx-token"},
	})
	res, _ := callTool(t, ctx, p, "mixpanel_track_event", map[string]any{
		"event":       "Login",
		"distinct_id": "user-2",
		"time":        1700000000,
	})
	require.False(t, res.IsError, resultText(t, res))

	props := gjson.GetBytes(srv.MustLastRequest(t).Body, "0.properties")
	assert.Equal(t, "ctx-token", props.Get("token").String())
	assert.EqualValues(t, 1700000000, props.Get("time").Int())
}

func TestMixpanelTrackEventMissingToken(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context())
	p, _ := newMixpanel(t, srv, config.Mixpanel{})

	res, outcome := callTool(t, t.Context(), p, "mixpanel_track_event", map[string]any{
		"event":       "Login",
		"distinct_id": "user-2",
	})
	require.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "missing credentials")
	assert.False(t, outcome.Invalid())
	assert.Zero(t, srv.CallCount())
}

func TestMixpanelTrackEventRejected(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(`{"status": 0, "error": "token, missing or empty"}`)))
	p, _ := newMixpanel(t, srv, config.Mixpanel{ProjectToken: "bad"})

	res, outcome := callTool(t, t.Context(), p, "mixpanel_track_event", map[string]any{
		"event":       "Login",
		"distinct_id": "user-2",
	})
	require.True(t, res.IsError)
	assert.Equal(t, "mixpanel: token, missing or empty", resultText(t, res))
	assert.Error(t, outcome.Err())
}

func TestMixpanelSetProfile(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(`{"status": 1, "error": null}`)))
	p, _ := newMixpanel(t, srv, config.Mixpanel{ProjectToken: "proj-token"})

	res, _ := callTool(t, t.Context(), p, "mixpanel_set_profile", map[string]any{
		"distinct_id": "user-1",
		"properties":  map[string]any{"$email": "ada@example.com"},
		"set_once":    true,
	})
	require.False(t, res.IsError, resultText(t, res))
	assert.JSONEq(t, `{"updated": true, "distinct_id": "user-1", "operation": "$set_once"}`, resultText(t, res))

	req := srv.MustLastRequest(t)
	assert.Equal(t, "/engage", req.Path)
	assert.JSONEq(t, `[{"$token": "proj-token", "$distinct_id": "user-1", "$set_once": {"$email": "ada@example.com"}}]`, string(req.Body))
}

func TestMixpanelQuerySegmentation(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(
		`{"data": {"series": ["2024-03-01", "2024-03-02"], "values": {"Signed Up": {"2024-03-01": 10, "2024-03-02": 14}}}, "legend_size": 1}`,
	)))
	p, _ := newMixpanel(t, srv, config.Mixpanel{ProjectID: "12345", ServiceAccount: "svc.user", Secret: "svc-secret"})

	res, _ := callTool(t, t.Context(), p, "mixpanel_query_segmentation", map[string]any{
		"event":     "Signed Up",
		"from_date": "2024-03-01",
		"to_date":   "2024-03-02",
		"on":        `properties["plan"]`,
	})
	require.False(t, res.IsError, resultText(t, res))
	assert.JSONEq(t, `{"series": ["2024-03-01", "2024-03-02"], "values": {"Signed Up": {"2024-03-01": 10, "2024-03-02": 14}}}`, resultText(t, res))

	req := srv.MustLastRequest(t)
	assert.Equal(t, "/api/2.0/segmentation", req.Path)
	assert.Equal(t, "12345", req.Query.Get("project_id"))
	assert.Equal(t, "day", req.Query.Get("unit"))
	assert.Equal(t, `properties["plan"]`, req.Query.Get("on"))
	assert.False(t, req.Query.Has("where"))
	assert.Equal(t, basicAuth("svc.user", "svc-secret"), req.Header.Get("Authorization"))
}

func TestMixpanelQueryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		err  string
	}{
		{
			name: "bad date",
			args: map[string]any{"event": "x", "from_date": "03/01/2024", "to_date": "2024-03-02"},
			err:  `invalid argument "from_date": must be a date formatted as YYYY-MM-DD`,
		},
		{
			name: "reversed range",
			args: map[string]any{"event": "x", "from_date": "2024-03-02", "to_date": "2024-03-01"},
			err:  `invalid argument "to_date": must not be before from_date`,
		},
		{
			name: "bad unit",
			args: map[string]any{"event": "x", "from_date": "2024-03-01", "to_date": "2024-03-02", "unit": "year"},
			err:  `invalid argument "unit": must be one of minute, hour, day, week, month`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.NewUpstreamServer(t, t.Context())
			p, _ := newMixpanel(t, srv, config.Mixpanel{ProjectID: "1", Secret: "s"})

			res, outcome := callTool(t, t.Context(), p, "mixpanel_query_segmentation", tc.args)
			require.True(t, res.IsError)
			assert.Equal(t, tc.err, resultText(t, res))
			assert.True(t, outcome.Invalid())
			assert.Zero(t, srv.CallCount())
		})
	}
}

func TestMixpanelTopEvents(t *testing.T) {
	t.Parallel()

	srv := testutil.NewUpstreamServer(t, t.Context(), testutil.WithUpstreamResponse(http.StatusOK, []byte(
		`{"events": [{"amount": 2, "event": "Signed Up", "percent_change": -0.35}, {"amount": 75, "event": "Login", "percent_change": 0.1}], "type": "unique"}`,
	)))
	p, _ := newMixpanel(t, srv, config.Mixpanel{})

	t.Run("project id is required", func(t *testing.T) {
		res, outcome := callTool(t, t.Context(), p, "mixpanel_top_events", map[string]any{})
		require.True(t, res.IsError)
		assert.Equal(t, `invalid argument "project_id": is required`, resultText(t, res))
		assert.True(t, outcome.Invalid())
	})

	t.Run("api secret from context", func(t *testing.T) {
		ctx := mcpcontext.AsCredentials(t.Context(), &mcpcontext.Credentials{
			Token:  "api-secret",
			Values: map[string]string{provider.MixpanelProjectID: "999"},
		})
		res, _ := callTool(t, ctx, p, "mixpanel_top_events", map[string]any{"type": "unique", "limit": 2})
		require.False(t, res.IsError, resultText(t, res))
		assert.JSONEq(t, `{"type": "unique", "events": [{"event": "Signed Up", "amount": 2, "percent_change": -0.35}, {"event": "Login", "amount": 75, "percent_change": 0.1}]}`, resultText(t, res))

		req := srv.MustLastRequest(t)
		assert.Equal(t, "/api/2.0/events/top", req.Path)
		assert.Equal(t, "999", req.Query.Get("project_id"))
		assert.Equal(t, "2", req.Query.Get("limit"))
		assert.Equal(t, basicAuth("api-secret", ""), req.Header.Get("Authorization"))
	})

	assert.Equal(t, 1, srv.CallCount())
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
