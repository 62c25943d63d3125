package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

// airtableMaxBatch is the most records Airtable accepts in one write.
const airtableMaxBatch = 10

// Airtable reads and writes records of Airtable bases.
type Airtable struct {
	base
}

var _ Provider = &Airtable{}

func NewAirtable(cfg config.Airtable, opts upstream.Options) *Airtable {
	return &Airtable{
		base: newBase(config.ProviderAirtable, cfg.BaseURL, "https://api.airtable.com/v0", upstream.BearerAuth(cfg.Key), opts),
	}
}

func (p *Airtable) Instructions() string {
	return "List Airtable bases and read, create, update and delete records. Tables may be given by name or id; base ids start with 'app' and record ids with 'rec'."
}

func (p *Airtable) Tools() []server.ServerTool {
	table := []mcp.ToolOption{
		mcp.WithString("base_id", mcp.Required(), mcp.Description("Base id, e.g. appXXXXXXXXXXXXXX.")),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name or id.")),
	}
	with := func(opts ...mcp.ToolOption) []mcp.ToolOption {
		return append(append([]mcp.ToolOption{}, table...), opts...)
	}

	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_bases"),
				mcp.WithDescription("List the bases the token can access."),
				mcp.WithString("offset", mcp.Description("Paging offset returned by a previous call.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listBases),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_records"), with(
				mcp.WithDescription("List records of a table."),
				mcp.WithString("view", mcp.Description("Only records visible in this view, in its order.")),
				mcp.WithString("filter_formula", mcp.Description("Airtable formula records must satisfy, e.g. {Status}='Done'.")),
				mcp.WithArray("fields", mcp.Description("Only return these fields."), mcp.WithStringItems()),
				mcp.WithString("sort_field"),
				mcp.WithString("sort_direction", mcp.Enum("asc", "desc"), mcp.DefaultString("asc")),
				mcp.WithNumber("max_records", mcp.Min(1), mcp.Max(1000)),
				mcp.WithNumber("page_size", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(100)),
				mcp.WithString("offset", mcp.Description("Paging offset returned by a previous call.")),
				mcp.WithReadOnlyHintAnnotation(true),
			)...),
			Handler: handle(p.listRecords),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_record"), with(
				mcp.WithDescription("Get a record."),
				mcp.WithString("record_id", mcp.Required()),
				mcp.WithReadOnlyHintAnnotation(true),
			)...),
			Handler: handle(p.getRecord),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_records"), with(
				mcp.WithDescription("Create up to 10 records. Each item is an object of field values."),
				mcp.WithArray("records", mcp.Required(), mcp.MinItems(1), mcp.MaxItems(airtableMaxBatch), mcp.Items(map[string]any{"type": "object"})),
				mcp.WithBoolean("typecast", mcp.Description("Convert string values to the field types."), mcp.DefaultBool(false)),
			)...),
			Handler: handle(p.createRecords),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "update_record"), with(
				mcp.WithDescription("Update fields of a record. Fields not given are unchanged."),
				mcp.WithString("record_id", mcp.Required()),
				mcp.WithObject("fields", mcp.Required()),
				mcp.WithBoolean("typecast", mcp.DefaultBool(false)),
			)...),
			Handler: handle(p.updateRecord),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "delete_record"), with(
				mcp.WithDescription("Delete a record."),
				mcp.WithString("record_id", mcp.Required()),
				mcp.WithDestructiveHintAnnotation(true),
			)...),
			Handler: handle(p.deleteRecord),
		},
	}
}

func (p *Airtable) listBases(ctx context.Context, a *argReader) (any, error) {
	offset := a.optionalString("offset", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	var q url.Values
	if offset != "" {
		q = url.Values{"offset": {offset}}
	}
	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "list_bases", Path: "/meta/bases", Query: q})
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"bases": projectEach(resp.Get("bases"),
			"id", "id",
			"name", "name",
			"permission_level", "permissionLevel",
		),
	}
	setIf(out, "offset", resp.Get("offset").String())
	return out, nil
}

func (p *Airtable) listRecords(ctx context.Context, a *argReader) (any, error) {
	path := p.tablePath(a)
	q := url.Values{"pageSize": {strconv.Itoa(a.integer("page_size", 100, 1, 100))}}
	for _, arg := range [][2]string{
		{"view", "view"},
		{"filter_formula", "filterByFormula"},
		{"offset", "offset"},
	} {
		if v := a.optionalString(arg[0], 0); v != "" {
			q.Set(arg[1], v)
		}
	}
	if a.has("max_records") {
		q.Set("maxRecords", strconv.Itoa(a.integer("max_records", 0, 1, 1000)))
	}
	for _, f := range a.stringSlice("fields", false, 0) {
		q.Add("fields[]", f)
	}
	if field := a.optionalString("sort_field", 0); field != "" {
		q.Set("sort[0][field]", field)
		q.Set("sort[0][direction]", a.enum("sort_direction", "asc", "asc", "desc"))
	}
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "list_records", Path: path, Query: q})
	if err != nil {
		return nil, err
	}
	out := map[string]any{"records": airtableRecords(resp.Get("records"))}
	setIf(out, "offset", resp.Get("offset").String())
	return out, nil
}

func (p *Airtable) getRecord(ctx context.Context, a *argReader) (any, error) {
	path := p.recordPath(a)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "get_record", Path: path})
	if err != nil {
		return nil, err
	}
	return airtableRecord(resp.JSON()), nil
}

func (p *Airtable) createRecords(ctx context.Context, a *argReader) (any, error) {
	path := p.tablePath(a)
	items := a.objectSlice("records", 1, airtableMaxBatch)
	typecast := a.boolean("typecast", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		// Accept both {"fields": {...}} and bare field objects.
		fields := item
		if nested, ok := item["fields"].(map[string]any); ok && len(item) == 1 {
			fields = nested
		}
		records = append(records, map[string]any{"fields": fields})
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_records",
		Method:   http.MethodPost,
		Path:     path,
		JSON:     map[string]any{"records": records, "typecast": typecast},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": airtableRecords(resp.Get("records"))}, nil
}

func (p *Airtable) updateRecord(ctx context.Context, a *argReader) (any, error) {
	path := p.recordPath(a)
	fields := a.object("fields", true)
	typecast := a.boolean("typecast", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "update_record",
		Method:   http.MethodPatch,
		Path:     path,
		JSON:     map[string]any{"fields": fields, "typecast": typecast},
	})
	if err != nil {
		return nil, err
	}
	return airtableRecord(resp.JSON()), nil
}

func (p *Airtable) deleteRecord(ctx context.Context, a *argReader) (any, error) {
	path := p.recordPath(a)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "delete_record",
		Method:   http.MethodDelete,
		Path:     path,
	})
	if err != nil {
		return nil, err
	}
	return project(resp.JSON(), "id", "id", "deleted", "deleted"), nil
}

func (p *Airtable) tablePath(a *argReader) string {
	base := airtableID(a, "base_id", "app")
	table := a.requireString("table", 0)
	return "/" + pathEscape(base) + "/" + pathEscape(table)
}

func (p *Airtable) recordPath(a *argReader) string {
	table := p.tablePath(a)
	return table + "/" + pathEscape(airtableID(a, "record_id", "rec"))
}

func airtableID(a *argReader, name, prefix string) string {
	id := a.requireString(name, 0)
	if id != "" && !strings.HasPrefix(id, prefix) {
		a.fail(name, "must start with %q", prefix)
	}
	return id
}

func airtableRecords(r gjson.Result) []map[string]any {
	out := []map[string]any{}
	r.ForEach(func(_, rec gjson.Result) bool {
		out = append(out, airtableRecord(rec))
		return true
	})
	return out
}

func airtableRecord(r gjson.Result) map[string]any {
	rec := project(r, "id", "id", "created_time", "createdTime", "fields", "fields")
	if _, ok := rec["fields"]; !ok {
		rec["fields"] = map[string]any{}
	}
	return rec
}
