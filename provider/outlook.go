package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/upstream"
)

const (
	outlookMessageFields = "id,subject,from,receivedDateTime,bodyPreview,isRead,hasAttachments,webLink"
	outlookEventFields   = "id,subject,start,end,location,organizer,isOnlineMeeting,onlineMeeting,webLink"
)

// Outlook reads mail and calendars through Microsoft Graph. Delegated tokens
// act on the signed-in user ("me"); app-only credentials act on the
// configured mailbox.
type Outlook struct {
	base
	cfg config.Outlook
}

var _ Provider = &Outlook{}

func NewOutlook(cfg config.Outlook, opts upstream.Options) *Outlook {
	var src oauth2.TokenSource
	if cfg.TenantID != "" && cfg.ClientID != "" {
		src = clientCredentials(&clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     orDefault(cfg.TokenURL, "https://login.microsoftonline.com/"+url.PathEscape(cfg.TenantID)+"/oauth2/v2.0/token"),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
			AuthStyle:    oauth2.AuthStyleInParams,
		}, opts)
	}
	return &Outlook{
		base: newBase(config.ProviderOutlook, cfg.BaseURL, "https://graph.microsoft.com/v1.0", upstream.TokenSourceAuth(cfg.Key, src), opts),
		cfg:  cfg,
	}
}

func (p *Outlook) Instructions() string {
	return "Read and send Outlook mail and manage calendar events through Microsoft Graph. Times are ISO 8601."
}

func (p *Outlook) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_messages"),
				mcp.WithDescription("List messages in a mail folder, newest first."),
				mcp.WithString("folder", mcp.Description("Folder id or well-known name such as inbox, sentitems or drafts."), mcp.DefaultString("inbox")),
				mcp.WithString("search", mcp.Description("Full text search; results are ordered by relevance.")),
				mcp.WithBoolean("unread_only", mcp.DefaultBool(false)),
				mcp.WithNumber("top", mcp.Min(1), mcp.Max(50), mcp.DefaultNumber(10)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listMessages),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_message"),
				mcp.WithDescription("Get a message including its text body and recipients."),
				mcp.WithString("message_id", mcp.Required()),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getMessage),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "send_mail"),
				mcp.WithDescription("Send an email."),
				mcp.WithArray("to", mcp.Required(), mcp.Description("Recipient addresses."), mcp.WithStringItems()),
				mcp.WithArray("cc", mcp.WithStringItems()),
				mcp.WithString("subject", mcp.Required(), mcp.MaxLength(255)),
				mcp.WithString("body", mcp.Required()),
				mcp.WithString("content_type", mcp.Enum("text", "html"), mcp.DefaultString("text")),
				mcp.WithBoolean("save_to_sent_items", mcp.DefaultBool(true)),
			),
			Handler: handle(p.sendMail),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_events"),
				mcp.WithDescription("List calendar events. With a start and end, recurring events are expanded into occurrences."),
				mcp.WithString("start", mcp.Description("Range start, RFC 3339.")),
				mcp.WithString("end", mcp.Description("Range end, RFC 3339.")),
				mcp.WithNumber("top", mcp.Min(1), mcp.Max(50), mcp.DefaultNumber(10)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listEvents),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_event"),
				mcp.WithDescription("Create a calendar event and invite attendees."),
				mcp.WithString("subject", mcp.Required()),
				mcp.WithString("start", mcp.Required(), mcp.Description("Local start time, e.g. 2024-03-05T14:00:00.")),
				mcp.WithString("end", mcp.Required(), mcp.Description("Local end time.")),
				mcp.WithString("timezone", mcp.Description("Timezone of start and end, e.g. UTC or Pacific Standard Time."), mcp.DefaultString("UTC")),
				mcp.WithString("body"),
				mcp.WithString("location"),
				mcp.WithArray("attendees", mcp.Description("Attendee addresses."), mcp.WithStringItems()),
				mcp.WithBoolean("online_meeting", mcp.Description("Create a Teams meeting for the event."), mcp.DefaultBool(false)),
			),
			Handler: handle(p.createEvent),
		},
	}
}

func (p *Outlook) listMessages(ctx context.Context, a *argReader) (any, error) {
	folder := orDefault(a.optionalString("folder", 0), "inbox")
	search := a.optionalString("search", 0)
	unread := a.boolean("unread_only", false)
	top := a.integer("top", 10, 1, 50)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"$top":    {strconv.Itoa(top)},
		"$select": {outlookMessageFields},
	}
	// Graph rejects $orderby together with $search.
	if search != "" {
		q.Set("$search", strconv.Quote(search))
	} else {
		q.Set("$orderby", "receivedDateTime desc")
	}
	if unread {
		q.Set("$filter", "isRead eq false")
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "list_messages",
		Path:     p.mailbox(ctx) + "/mailFolders/" + pathEscape(folder) + "/messages",
		Query:    q,
	})
	if err != nil {
		return nil, err
	}

	messages := []map[string]any{}
	for _, m := range resp.Get("value").Array() {
		messages = append(messages, outlookMessage(m))
	}
	return map[string]any{"messages": messages}, nil
}

func (p *Outlook) getMessage(ctx context.Context, a *argReader) (any, error) {
	id := a.requireString("message_id", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "get_message",
		Path:     p.mailbox(ctx) + "/messages/" + pathEscape(id),
		Query:    url.Values{"$select": {outlookMessageFields + ",body,toRecipients,ccRecipients"}},
		Header:   http.Header{"Prefer": {`outlook.body-content-type="text"`}},
	})
	if err != nil {
		return nil, err
	}

	msg := resp.JSON()
	out := outlookMessage(msg)
	out["body"] = msg.Get("body.content").String()
	out["to"] = outlookAddresses(msg.Get("toRecipients"))
	if cc := outlookAddresses(msg.Get("ccRecipients")); len(cc) > 0 {
		out["cc"] = cc
	}
	return out, nil
}

func (p *Outlook) sendMail(ctx context.Context, a *argReader) (any, error) {
	to := outlookRecipients(a, "to", true)
	cc := outlookRecipients(a, "cc", false)
	subject := a.requireString("subject", 255)
	body := a.requireString("body", 0)
	contentType := a.enum("content_type", "text", "text", "html")
	save := a.boolean("save_to_sent_items", true)
	if err := a.err(); err != nil {
		return nil, err
	}

	message := map[string]any{
		"subject":      subject,
		"body":         map[string]any{"contentType": contentType, "content": body},
		"toRecipients": outlookRecipientList(to),
	}
	if len(cc) > 0 {
		message["ccRecipients"] = outlookRecipientList(cc)
	}

	// sendMail answers 202 Accepted without a body.
	if _, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "send_mail",
		Method:   http.MethodPost,
		Path:     p.mailbox(ctx) + "/sendMail",
		JSON:     map[string]any{"message": message, "saveToSentItems": save},
	}); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": to, "subject": subject}, nil
}

func (p *Outlook) listEvents(ctx context.Context, a *argReader) (any, error) {
	start := outlookTime(a, "start")
	end := outlookTime(a, "end")
	top := a.integer("top", 10, 1, 50)
	if err := a.err(); err != nil {
		return nil, err
	}
	if (start == "") != (end == "") {
		return nil, &ArgError{Name: "end", Reason: "start and end must be given together"}
	}

	q := url.Values{
		"$top":     {strconv.Itoa(top)},
		"$select":  {outlookEventFields},
		"$orderby": {"start/dateTime"},
	}
	path := p.mailbox(ctx) + "/events"
	if start != "" {
		path = p.mailbox(ctx) + "/calendarView"
		q.Set("startDateTime", start)
		q.Set("endDateTime", end)
	}

	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "list_events", Path: path, Query: q})
	if err != nil {
		return nil, err
	}
	events := []map[string]any{}
	for _, e := range resp.Get("value").Array() {
		events = append(events, outlookEvent(e))
	}
	return map[string]any{"events": events}, nil
}

func (p *Outlook) createEvent(ctx context.Context, a *argReader) (any, error) {
	subject := a.requireString("subject", 255)
	start := a.requireString("start", 0)
	end := a.requireString("end", 0)
	timezone := orDefault(a.optionalString("timezone", 0), "UTC")
	body := a.optionalString("body", 0)
	location := a.optionalString("location", 0)
	attendees := outlookRecipients(a, "attendees", false)
	online := a.boolean("online_meeting", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	event := map[string]any{
		"subject": subject,
		"start":   map[string]any{"dateTime": start, "timeZone": timezone},
		"end":     map[string]any{"dateTime": end, "timeZone": timezone},
	}
	if body != "" {
		event["body"] = map[string]any{"contentType": "text", "content": body}
	}
	if location != "" {
		event["location"] = map[string]any{"displayName": location}
	}
	if len(attendees) > 0 {
		list := make([]map[string]any, 0, len(attendees))
		for _, addr := range attendees {
			list = append(list, map[string]any{
				"emailAddress": map[string]any{"address": addr},
				"type":         "required",
			})
		}
		event["attendees"] = list
	}
	if online {
		event["isOnlineMeeting"] = true
		event["onlineMeetingProvider"] = "teamsForBusiness"
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_event",
		Method:   http.MethodPost,
		Path:     p.mailbox(ctx) + "/events",
		JSON:     event,
	})
	if err != nil {
		return nil, err
	}
	return outlookEvent(resp.JSON()), nil
}

// mailbox is the Graph path of the user the request acts on.
func (p *Outlook) mailbox(ctx context.Context) string {
	if mcpcontext.TokenFromContext(ctx) != "" || p.cfg.Key != "" || p.cfg.UserID == "" {
		return "/me"
	}
	return "/users/" + pathEscape(p.cfg.UserID)
}

func outlookTime(a *argReader, name string) string {
	s := a.optionalString(name, 0)
	if s == "" {
		return ""
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		a.fail(name, "must be an RFC 3339 timestamp")
		return ""
	}
	return s
}

func outlookRecipients(a *argReader, name string, required bool) []string {
	addrs := a.stringSlice(name, required, 100)
	for _, addr := range addrs {
		if _, err := mail.ParseAddress(addr); err != nil {
			a.fail(name, "%q is not a valid email address", addr)
			return nil
		}
	}
	return addrs
}

func outlookRecipientList(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, map[string]any{"emailAddress": map[string]any{"address": addr}})
	}
	return out
}

func outlookAddresses(r gjson.Result) []string {
	out := []string{}
	r.ForEach(func(_, rcpt gjson.Result) bool {
		addr := rcpt.Get("emailAddress.address").String()
		if name := rcpt.Get("emailAddress.name").String(); name != "" && !strings.EqualFold(name, addr) {
			addr = fmt.Sprintf("%s <%s>", name, addr)
		}
		out = append(out, addr)
		return true
	})
	return out
}

func outlookMessage(r gjson.Result) map[string]any {
	return project(r,
		"id", "id",
		"subject", "subject",
		"from", "from.emailAddress.address",
		"from_name", "from.emailAddress.name",
		"received_at", "receivedDateTime",
		"preview", "bodyPreview",
		"is_read", "isRead",
		"has_attachments", "hasAttachments",
		"web_link", "webLink",
	)
}

func outlookEvent(r gjson.Result) map[string]any {
	return project(r,
		"id", "id",
		"subject", "subject",
		"start", "start.dateTime",
		"end", "end.dateTime",
		"timezone", "start.timeZone",
		"location", "location.displayName",
		"organizer", "organizer.emailAddress.address",
		"is_online", "isOnlineMeeting",
		"join_url", "onlineMeeting.joinUrl",
		"web_link", "webLink",
	)
}
