package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// toolHandler implements a tool. It returns the value to send back to the
// client, or an error which is reported as an error result.
type toolHandler func(ctx context.Context, a *argReader) (any, error)

func handle(h toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := h(ctx, newArgReader(req))
		if err != nil {
			var argErr *ArgError
			recordOutcome(ctx, err, errors.As(err, &argErr))
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := toolResult(out)
		if err != nil {
			recordOutcome(ctx, err, false)
			return mcp.NewToolResultError(err.Error()), nil
		}
		recordOutcome(ctx, nil, false)
		return res, nil
	}
}

func toolResult(v any) (*mcp.CallToolResult, error) {
	switch out := v.(type) {
	case *mcp.CallToolResult:
		return out, nil
	case string:
		return mcp.NewToolResultText(out), nil
	case json.RawMessage:
		return mcp.NewToolResultText(prettyJSON(out)), nil
	case []byte:
		return mcp.NewToolResultText(prettyJSON(out)), nil
	case gjson.Result:
		return mcp.NewToolResultText(prettyJSON([]byte(out.Raw))), nil
	default:
		raw, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(raw)), nil
	}
}

func prettyJSON(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return string(raw)
	}
	return strings.TrimSuffix(string(pretty.Pretty(raw)), "\n")
}

// project builds an object from r. Pairs are (output key, gjson path);
// missing and null values are left out.
func project(r gjson.Result, pairs ...string) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		v := r.Get(pairs[i+1])
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		out[pairs[i]] = v.Value()
	}
	return out
}

// projectEach applies [project] to every element of the array r.
func projectEach(r gjson.Result, pairs ...string) []map[string]any {
	out := []map[string]any{}
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, item gjson.Result) bool {
		out = append(out, project(item, pairs...))
		return true
	})
	return out
}

// setIf sets key in m when v is not the zero value.
func setIf[T comparable](m map[string]any, key string, v T) {
	var zero T
	if v != zero {
		m[key] = v
	}
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}
