package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestToolResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "string", in: "plain text", want: "plain text"},
		{name: "raw json", in: json.RawMessage(`{"a":1,"b":[1,2]}`), want: "{\n  \"a\": 1,\n  \"b\": [1, 2]\n}"},
		{name: "invalid json bytes", in: []byte("not json"), want: "not json"},
		{name: "gjson", in: gjson.Parse(`{"ok":true}`), want: "{\n  \"ok\": true\n}"},
		{name: "map", in: map[string]any{"id": 1}, want: "{\n  \"id\": 1\n}"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, err := toolResult(tc.in)
			require.NoError(t, err)
			require.False(t, res.IsError)
			require.Len(t, res.Content, 1)
			assert.Equal(t, tc.want, res.Content[0].(mcp.TextContent).Text)
		})
	}
}

func TestProject(t *testing.T) {
	t.Parallel()

	r := gjson.Parse(`{"id": 1, "name": null, "meta": {"count": 3}, "flag": false}`)
	assert.Equal(t, map[string]any{"id": float64(1), "count": float64(3), "flag": false},
		project(r, "id", "id", "name", "name", "count", "meta.count", "flag", "flag", "missing", "nope"))

	list := gjson.Parse(`[{"a": 1}, {"a": 2}]`)
	assert.Equal(t, []map[string]any{{"x": float64(1)}, {"x": float64(2)}}, projectEach(list, "x", "a"))
	assert.Equal(t, []map[string]any{}, projectEach(gjson.Parse(`null`), "x", "a"))

	// Vendors answer empty searches with null, scalars or objects in place of a list.
	page := gjson.Parse(`{"results": null, "total": 0, "paging": {"next": "abc"}}`)
	for _, path := range []string{"results", "total", "paging", "missing"} {
		assert.Equal(t, []map[string]any{}, projectEach(page.Get(path), "x", "a"), path)
	}
}

func TestHandleRecordsOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		h           toolHandler
		wantError   bool
		wantInvalid bool
	}{
		{
			name: "ok",
			h:    func(context.Context, *argReader) (any, error) { return "done", nil },
		},
		{
			name: "invalid",
			h: func(_ context.Context, a *argReader) (any, error) {
				a.requireString("q", 0)
				return nil, a.err()
			},
			wantError:   true,
			wantInvalid: true,
		},
		{
			name:      "upstream failure",
			h:         func(context.Context, *argReader) (any, error) { return nil, errors.New("upstream error: 500") },
			wantError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx, outcome := WithCallOutcome(context.Background())
			res, err := handle(tc.h)(ctx, mcp.CallToolRequest{})
			require.NoError(t, err)
			assert.Equal(t, tc.wantError, res.IsError)
			assert.Equal(t, tc.wantError, outcome.Err() != nil)
			assert.Equal(t, tc.wantInvalid, outcome.Invalid())
		})
	}

	// Handlers still work without an outcome in the context.
	res, err := handle(func(context.Context, *argReader) (any, error) { return "ok", nil })(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}
