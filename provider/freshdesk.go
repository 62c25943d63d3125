package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/upstream"
)

// FreshdeskDomain is the credential value naming the helpdesk, e.g. "acme"
// for acme.freshdesk.com.
const FreshdeskDomain = "domain"

// Freshdesk status and priority codes. The API speaks numbers only.
var (
	freshdeskStatuses   = []string{"open", "pending", "resolved", "closed"}
	freshdeskPriorities = []string{"low", "medium", "high", "urgent"}
)

func freshdeskStatusCode(name string) int {
	switch name {
	case "open":
		return 2
	case "pending":
		return 3
	case "resolved":
		return 4
	case "closed":
		return 5
	}
	return 0
}

func freshdeskStatusName(code int64) string {
	switch code {
	case 2:
		return "open"
	case 3:
		return "pending"
	case 4:
		return "resolved"
	case 5:
		return "closed"
	}
	return strconv.FormatInt(code, 10)
}

func freshdeskPriorityCode(name string) int {
	for i, p := range freshdeskPriorities {
		if p == name {
			return i + 1
		}
	}
	return 0
}

func freshdeskPriorityName(code int64) string {
	if code >= 1 && code <= int64(len(freshdeskPriorities)) {
		return freshdeskPriorities[code-1]
	}
	return strconv.FormatInt(code, 10)
}

// Freshdesk works with helpdesk tickets and contacts. The helpdesk domain may
// be chosen per request.
type Freshdesk struct {
	base
	cfg config.Freshdesk
}

var _ Provider = &Freshdesk{}

func NewFreshdesk(cfg config.Freshdesk, opts upstream.Options) *Freshdesk {
	p := &Freshdesk{cfg: cfg}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = freshdeskAPI(cfg.Domain)
	}
	p.base = newBase(config.ProviderFreshdesk, baseURL, "", upstream.BasicAuth(p.credentials), opts)
	return p
}

func (p *Freshdesk) Instructions() string {
	return "Search, read, create and update Freshdesk support tickets, add notes and look up contacts. " +
		"Ticket status is one of open, pending, resolved, closed; priority is one of low, medium, high, urgent."
}

func (p *Freshdesk) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_tickets"),
				mcp.WithDescription("List tickets, most recently created first."),
				mcp.WithString("email", mcp.Description("Only tickets raised by this requester.")),
				mcp.WithString("updated_since", mcp.Description("Only tickets updated on or after this date (YYYY-MM-DD).")),
				mcp.WithString("order_by", mcp.Enum("created_at", "updated_at", "due_by"), mcp.DefaultString("created_at")),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(30)),
				mcp.WithNumber("page", mcp.Min(1), mcp.DefaultNumber(1)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listTickets),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_ticket"),
				mcp.WithDescription("Get a ticket, optionally with its conversation."),
				mcp.WithNumber("ticket_id", mcp.Required(), mcp.Min(1)),
				mcp.WithBoolean("include_conversations", mcp.DefaultBool(false)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getTicket),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_ticket"),
				mcp.WithDescription("Create a ticket on behalf of a requester."),
				mcp.WithString("subject", mcp.Required(), mcp.MaxLength(255)),
				mcp.WithString("description", mcp.Required(), mcp.Description("HTML body of the ticket.")),
				mcp.WithString("email", mcp.Required(), mcp.Description("Requester email address.")),
				mcp.WithString("priority", mcp.Enum(freshdeskPriorities...), mcp.DefaultString("medium")),
				mcp.WithString("status", mcp.Enum(freshdeskStatuses...), mcp.DefaultString("open")),
				mcp.WithString("type", mcp.Description("Ticket type, e.g. Question or Incident.")),
				mcp.WithArray("tags", mcp.WithStringItems()),
			),
			Handler: handle(p.createTicket),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "update_ticket"),
				mcp.WithDescription("Update the status, priority, subject, assignee or tags of a ticket."),
				mcp.WithNumber("ticket_id", mcp.Required(), mcp.Min(1)),
				mcp.WithString("status", mcp.Enum(freshdeskStatuses...)),
				mcp.WithString("priority", mcp.Enum(freshdeskPriorities...)),
				mcp.WithString("subject", mcp.MaxLength(255)),
				mcp.WithNumber("responder_id", mcp.Description("Id of the agent to assign.")),
				mcp.WithArray("tags", mcp.Description("Replaces the ticket's tags."), mcp.WithStringItems()),
			),
			Handler: handle(p.updateTicket),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "add_note"),
				mcp.WithDescription("Add a note to a ticket. Notes are private unless stated otherwise."),
				mcp.WithNumber("ticket_id", mcp.Required(), mcp.Min(1)),
				mcp.WithString("body", mcp.Required(), mcp.Description("HTML content of the note.")),
				mcp.WithBoolean("private", mcp.DefaultBool(true)),
				mcp.WithArray("notify_emails", mcp.Description("Agent emails to notify."), mcp.WithStringItems()),
			),
			Handler: handle(p.addNote),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_contacts"),
				mcp.WithDescription("List contacts, optionally filtered by email or phone."),
				mcp.WithString("email"),
				mcp.WithString("phone"),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(30)),
				mcp.WithNumber("page", mcp.Min(1), mcp.DefaultNumber(1)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listContacts),
		},
	}
}

func (p *Freshdesk) listTickets(ctx context.Context, a *argReader) (any, error) {
	email := a.optionalString("email", 255)
	since := a.date("updated_since", false)
	orderBy := a.enum("order_by", "created_at", "created_at", "updated_at", "due_by")
	perPage := a.integer("per_page", 30, 1, 100)
	page := a.integer("page", 1, 1, math.MaxInt32)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"order_by":   {orderBy},
		"order_type": {"desc"},
		"per_page":   {strconv.Itoa(perPage)},
		"page":       {strconv.Itoa(page)},
	}
	if email != "" {
		q.Set("email", email)
	}
	if !since.IsZero() {
		q.Set("updated_since", since.Format("2006-01-02T15:04:05Z"))
	}

	resp, err := p.do(ctx, upstream.Request{Endpoint: "list_tickets", Path: "/tickets", Query: q})
	if err != nil {
		return nil, err
	}

	tickets := []map[string]any{}
	resp.JSON().ForEach(func(_, t gjson.Result) bool {
		tickets = append(tickets, freshdeskTicket(t))
		return true
	})
	return map[string]any{"tickets": tickets, "page": page}, nil
}

func (p *Freshdesk) getTicket(ctx context.Context, a *argReader) (any, error) {
	id := a.requireInteger("ticket_id", 1, math.MaxInt32)
	withConversations := a.boolean("include_conversations", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	var q url.Values
	if withConversations {
		q = url.Values{"include": {"conversations"}}
	}
	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "get_ticket",
		Path:     "/tickets/" + strconv.Itoa(id),
		Query:    q,
	})
	if err != nil {
		return nil, err
	}

	r := resp.JSON()
	out := freshdeskTicket(r)
	setIf(out, "description", r.Get("description_text").String())
	if withConversations {
		out["conversations"] = projectEach(r.Get("conversations"),
			"id", "id",
			"body", "body_text",
			"from_email", "from_email",
			"private", "private",
			"incoming", "incoming",
			"created_at", "created_at",
		)
	}
	return out, nil
}

func (p *Freshdesk) createTicket(ctx context.Context, a *argReader) (any, error) {
	body := map[string]any{
		"subject":     a.requireString("subject", 255),
		"description": a.requireString("description", 0),
		"email":       a.requireString("email", 255),
		"priority":    freshdeskPriorityCode(a.enum("priority", "medium", freshdeskPriorities...)),
		"status":      freshdeskStatusCode(a.enum("status", "open", freshdeskStatuses...)),
		// Portal.
		"source": 2,
	}
	setIf(body, "type", a.optionalString("type", 255))
	if tags := a.stringSlice("tags", false, 0); len(tags) > 0 {
		body["tags"] = tags
	}
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "create_ticket",
		Method:   http.MethodPost,
		Path:     "/tickets",
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return freshdeskTicket(resp.JSON()), nil
}

func (p *Freshdesk) updateTicket(ctx context.Context, a *argReader) (any, error) {
	id := a.requireInteger("ticket_id", 1, math.MaxInt32)
	body := map[string]any{}
	if s := a.enum("status", "", freshdeskStatuses...); s != "" {
		body["status"] = freshdeskStatusCode(s)
	}
	if pr := a.enum("priority", "", freshdeskPriorities...); pr != "" {
		body["priority"] = freshdeskPriorityCode(pr)
	}
	setIf(body, "subject", a.optionalString("subject", 255))
	if a.has("responder_id") {
		body["responder_id"] = a.integer("responder_id", 0, 1, math.MaxInt)
	}
	if a.has("tags") {
		tags := a.stringSlice("tags", false, 0)
		if tags == nil {
			tags = []string{}
		}
		body["tags"] = tags
	}
	if err := a.err(); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &ArgError{Name: "ticket_id", Reason: "no fields to update"}
	}

	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "update_ticket",
		Method:   http.MethodPut,
		Path:     "/tickets/" + strconv.Itoa(id),
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return freshdeskTicket(resp.JSON()), nil
}

func (p *Freshdesk) addNote(ctx context.Context, a *argReader) (any, error) {
	id := a.requireInteger("ticket_id", 1, math.MaxInt32)
	body := map[string]any{
		"body":    a.requireString("body", 0),
		"private": a.boolean("private", true),
	}
	if emails := a.stringSlice("notify_emails", false, 0); len(emails) > 0 {
		body["notify_emails"] = emails
	}
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "add_note",
		Method:   http.MethodPost,
		Path:     "/tickets/" + strconv.Itoa(id) + "/notes",
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return project(resp.JSON(),
		"id", "id",
		"ticket_id", "ticket_id",
		"private", "private",
		"body", "body_text",
		"created_at", "created_at",
	), nil
}

func (p *Freshdesk) listContacts(ctx context.Context, a *argReader) (any, error) {
	email := a.optionalString("email", 255)
	phone := a.optionalString("phone", 50)
	perPage := a.integer("per_page", 30, 1, 100)
	page := a.integer("page", 1, 1, math.MaxInt32)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"per_page": {strconv.Itoa(perPage)},
		"page":     {strconv.Itoa(page)},
	}
	if email != "" {
		q.Set("email", email)
	}
	if phone != "" {
		q.Set("phone", phone)
	}

	resp, err := p.do(ctx, upstream.Request{Endpoint: "list_contacts", Path: "/contacts", Query: q})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"contacts": projectEach(resp.JSON(),
			"id", "id",
			"name", "name",
			"email", "email",
			"phone", "phone",
			"mobile", "mobile",
			"company_id", "company_id",
			"created_at", "created_at",
		),
		"page": page,
	}, nil
}

func (p *Freshdesk) do(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	if domain := mcpcontext.ValueFromContext(ctx, FreshdeskDomain); domain != "" {
		req.BaseURL = freshdeskAPI(domain)
	} else if p.baseURL == "" {
		return nil, fmt.Errorf("%s: no helpdesk domain: %w", p.name, upstream.ErrMissingCredentials)
	}
	return p.client.Do(ctx, req)
}

// credentials implements Freshdesk's "<api key>:X" basic auth. The
// configured key is only sent to the configured helpdesk.
func (p *Freshdesk) credentials(ctx context.Context) (string, string) {
	key := mcpcontext.TokenFromContext(ctx)
	if key == "" && p.ownHelpdesk(ctx) {
		key = p.cfg.Key
	}
	if key == "" {
		return "", ""
	}
	return key, "X"
}

// ownHelpdesk reports whether the current request targets the configured
// helpdesk rather than one named in its credentials.
func (p *Freshdesk) ownHelpdesk(ctx context.Context) bool {
	domain := mcpcontext.ValueFromContext(ctx, FreshdeskDomain)
	return domain == "" || sameBaseURL(freshdeskAPI(domain), p.baseURL)
}

// freshdeskAPI accepts "acme", "acme.freshdesk.com" or a full URL.
func freshdeskAPI(domain string) string {
	if domain == "" {
		return ""
	}
	if strings.Contains(domain, "://") {
		return strings.TrimSuffix(domain, "/") + "/api/v2"
	}
	if !strings.Contains(domain, ".") {
		domain += ".freshdesk.com"
	}
	return "https://" + strings.TrimSuffix(domain, "/") + "/api/v2"
}

func freshdeskTicket(r gjson.Result) map[string]any {
	t := project(r,
		"id", "id",
		"subject", "subject",
		"type", "type",
		"requester_id", "requester_id",
		"responder_id", "responder_id",
		"tags", "tags",
		"created_at", "created_at",
		"updated_at", "updated_at",
		"due_by", "due_by",
	)
	if s := r.Get("status"); s.Exists() {
		t["status"] = freshdeskStatusName(s.Int())
	}
	if pr := r.Get("priority"); pr.Exists() {
		t["priority"] = freshdeskPriorityName(pr.Int())
	}
	return t
}
