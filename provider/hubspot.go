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
	"github.com/tidwall/sjson"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

const (
	hubspotContacts      = "/crm/v3/objects/contacts"
	hubspotContactSearch = "/crm/v3/objects/contacts/search"
	hubspotDeals         = "/crm/v3/objects/deals"
)

var (
	hubspotContactProperties = []string{"email", "firstname", "lastname", "phone", "company", "jobtitle", "lifecyclestage"}
	hubspotDealProperties    = []string{"dealname", "amount", "dealstage", "pipeline", "closedate"}
)

// HubSpot manages CRM contacts and deals.
type HubSpot struct {
	base
}

var _ Provider = &HubSpot{}

func NewHubSpot(cfg config.HubSpot, opts upstream.Options) *HubSpot {
	return &HubSpot{
		base: newBase(config.ProviderHubSpot, cfg.BaseURL, "https://api.hubapi.com", upstream.BearerAuth(cfg.Key), opts),
	}
}

func (p *HubSpot) Instructions() string {
	return "Read and manage HubSpot CRM contacts and deals. Pass the 'after' cursor from a previous result to page through lists."
}

func (p *HubSpot) Tools() []server.ServerTool {
	contactFields := []mcp.ToolOption{
		mcp.WithString("email", mcp.Description("Email address.")),
		mcp.WithString("firstname"),
		mcp.WithString("lastname"),
		mcp.WithString("phone"),
		mcp.WithString("company"),
		mcp.WithString("jobtitle"),
	}

	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_contacts"),
				mcp.WithDescription("List contacts."),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(10)),
				mcp.WithString("after", mcp.Description("Paging cursor returned by a previous call.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listContacts),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "search_contacts"),
				mcp.WithDescription("Search contacts by name, email, phone or company."),
				mcp.WithString("query", mcp.Required(), mcp.MaxLength(3000)),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(10)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.searchContacts),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_contact"),
				append([]mcp.ToolOption{mcp.WithDescription("Create a contact. The email is required.")}, contactFields...)...,
			),
			Handler: handle(p.createContact),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "update_contact"),
				append([]mcp.ToolOption{
					mcp.WithDescription("Update properties of a contact. Only the given properties change."),
					mcp.WithString("contact_id", mcp.Required()),
				}, contactFields...)...,
			),
			Handler: handle(p.updateContact),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_deals"),
				mcp.WithDescription("List deals."),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(10)),
				mcp.WithString("after", mcp.Description("Paging cursor returned by a previous call.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listDeals),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_deal"),
				mcp.WithDescription("Create a deal."),
				mcp.WithString("dealname", mcp.Required()),
				mcp.WithNumber("amount", mcp.Min(0)),
				mcp.WithString("dealstage", mcp.Description("Stage id, e.g. appointmentscheduled."), mcp.DefaultString("appointmentscheduled")),
				mcp.WithString("pipeline", mcp.DefaultString("default")),
				mcp.WithString("closedate", mcp.Description("Expected close date, ISO 8601.")),
			),
			Handler: handle(p.createDeal),
		},
	}
}

func (p *HubSpot) listContacts(ctx context.Context, a *argReader) (any, error) {
	return p.list(ctx, a, "list_contacts", hubspotContacts, hubspotContactProperties, "contacts")
}

func (p *HubSpot) listDeals(ctx context.Context, a *argReader) (any, error) {
	return p.list(ctx, a, "list_deals", hubspotDeals, hubspotDealProperties, "deals")
}

func (p *HubSpot) list(ctx context.Context, a *argReader, endpoint, path string, props []string, key string) (any, error) {
	limit := a.integer("limit", 10, 1, 100)
	after := a.optionalString("after", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"limit":      {strconv.Itoa(limit)},
		"properties": {strings.Join(props, ",")},
		"archived":   {"false"},
	}
	if after != "" {
		q.Set("after", after)
	}
	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: endpoint, Path: path, Query: q})
	if err != nil {
		return nil, err
	}
	return hubspotPage(resp.JSON(), key), nil
}

func (p *HubSpot) searchContacts(ctx context.Context, a *argReader) (any, error) {
	query := a.requireString("query", 3000)
	limit := a.integer("limit", 10, 1, 100)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "search_contacts",
		Method:   http.MethodPost,
		Path:     hubspotContactSearch,
		JSON: map[string]any{
			"query":      query,
			"limit":      limit,
			"properties": hubspotContactProperties,
		},
	})
	if err != nil {
		return nil, err
	}
	out := hubspotPage(resp.JSON(), "contacts")
	out["total"] = resp.Get("total").Int()
	return out, nil
}

func (p *HubSpot) createContact(ctx context.Context, a *argReader) (any, error) {
	props := hubspotContactFields(a)
	if err := a.err(); err != nil {
		return nil, err
	}
	if props["email"] == "" {
		return nil, &ArgError{Name: "email", Reason: "is required"}
	}

	body, err := hubspotProperties(props)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_contact",
		Method:   http.MethodPost,
		Path:     hubspotContacts,
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return hubspotObject(resp.JSON()), nil
}

func (p *HubSpot) updateContact(ctx context.Context, a *argReader) (any, error) {
	id := a.requireString("contact_id", 0)
	props := hubspotContactFields(a)
	if err := a.err(); err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, &ArgError{Name: "properties", Reason: "at least one property must be given"}
	}

	body, err := hubspotProperties(props)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "update_contact",
		Method:   http.MethodPatch,
		Path:     hubspotContacts + "/" + pathEscape(id),
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return hubspotObject(resp.JSON()), nil
}

func (p *HubSpot) createDeal(ctx context.Context, a *argReader) (any, error) {
	props := map[string]string{
		"dealname":  a.requireString("dealname", 0),
		"dealstage": orDefault(a.optionalString("dealstage", 0), "appointmentscheduled"),
		"pipeline":  orDefault(a.optionalString("pipeline", 0), "default"),
	}
	if a.has("amount") {
		props["amount"] = strconv.FormatFloat(a.float("amount", 0, 0, 1e12), 'f', -1, 64)
	}
	if closeDate := a.optionalString("closedate", 0); closeDate != "" {
		props["closedate"] = closeDate
	}
	if err := a.err(); err != nil {
		return nil, err
	}

	body, err := hubspotProperties(props)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_deal",
		Method:   http.MethodPost,
		Path:     hubspotDeals,
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return hubspotObject(resp.JSON()), nil
}

func hubspotContactFields(a *argReader) map[string]string {
	props := map[string]string{}
	for _, name := range []string{"email", "firstname", "lastname", "phone", "company", "jobtitle"} {
		if v := a.optionalString(name, 0); v != "" {
			props[name] = v
		}
	}
	return props
}

// hubspotProperties builds a {"properties": {...}} body.
func hubspotProperties(props map[string]string) ([]byte, error) {
	body := []byte(`{"properties":{}}`)
	for k, v := range props {
		var err error
		body, err = sjson.SetBytes(body, "properties."+escapeJSONPath(k), v)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// hubspotObject flattens a CRM object into its id and properties, dropping
// the internal object id property.
func hubspotObject(r gjson.Result) map[string]any {
	out := map[string]any{"id": r.Get("id").String()}
	r.Get("properties").ForEach(func(k, v gjson.Result) bool {
		if k.String() != "hs_object_id" && v.Type != gjson.Null {
			out[k.String()] = v.Value()
		}
		return true
	})
	for _, key := range []string{"createdAt", "updatedAt"} {
		if v := r.Get(key); v.Exists() {
			out[key] = v.String()
		}
	}
	return out
}

func hubspotPage(r gjson.Result, key string) map[string]any {
	items := []map[string]any{}
	for _, item := range r.Get("results").Array() {
		items = append(items, hubspotObject(item))
	}
	out := map[string]any{key: items}
	if after := r.Get("paging.next.after").String(); after != "" {
		out["after"] = after
	}
	return out
}

// escapeJSONPath escapes the characters gjson and sjson treat as path syntax.
func escapeJSONPath(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
