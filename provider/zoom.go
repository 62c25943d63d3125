package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

// Zoom schedules meetings and lists cloud recordings. Without a per-request
// token it falls back to a configured token, then to server-to-server OAuth.
type Zoom struct {
	base
}

var _ Provider = &Zoom{}

func NewZoom(cfg config.Zoom, opts upstream.Options) *Zoom {
	var src oauth2.TokenSource
	if cfg.ClientID != "" && cfg.AccountID != "" {
		src = clientCredentials(&clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     orDefault(cfg.TokenURL, "https://zoom.us/oauth/token"),
			AuthStyle:    oauth2.AuthStyleInHeader,
			EndpointParams: url.Values{
				"grant_type": {"account_credentials"},
				"account_id": {cfg.AccountID},
			},
		}, opts)
	}
	return &Zoom{
		base: newBase(config.ProviderZoom, cfg.BaseURL, "https://api.zoom.us/v2", upstream.TokenSourceAuth(cfg.Key, src), opts),
	}
}

func (p *Zoom) Instructions() string {
	return "Schedule, inspect and delete Zoom meetings and list cloud recordings. user_id defaults to the authenticated user ('me')."
}

func (p *Zoom) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_meetings"),
				mcp.WithDescription("List a user's meetings."),
				mcp.WithString("user_id", mcp.DefaultString("me")),
				mcp.WithString("type", mcp.Enum("scheduled", "live", "upcoming", "upcoming_meetings", "previous_meetings"), mcp.DefaultString("scheduled")),
				mcp.WithNumber("page_size", mcp.Min(1), mcp.Max(300), mcp.DefaultNumber(30)),
				mcp.WithString("next_page_token"),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listMeetings),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_meeting"),
				mcp.WithDescription("Get the details of a meeting, including its join URL."),
				mcp.WithString("meeting_id", mcp.Required()),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getMeeting),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_meeting"),
				mcp.WithDescription("Create a meeting. Without a start time the meeting is instant."),
				mcp.WithString("topic", mcp.Required(), mcp.MaxLength(200)),
				mcp.WithString("start_time", mcp.Description("Start time, RFC 3339 (e.g. 2024-03-01T15:00:00Z) or local time with a timezone.")),
				mcp.WithNumber("duration", mcp.Description("Duration in minutes."), mcp.Min(1), mcp.Max(1440), mcp.DefaultNumber(60)),
				mcp.WithString("timezone", mcp.Description("IANA timezone, e.g. Europe/Berlin.")),
				mcp.WithString("agenda", mcp.MaxLength(2000)),
				mcp.WithBoolean("waiting_room", mcp.DefaultBool(false)),
				mcp.WithString("user_id", mcp.DefaultString("me")),
			),
			Handler: handle(p.createMeeting),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "delete_meeting"),
				mcp.WithDescription("Delete a meeting."),
				mcp.WithString("meeting_id", mcp.Required()),
				mcp.WithDestructiveHintAnnotation(true),
			),
			Handler: handle(p.deleteMeeting),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_recordings"),
				mcp.WithDescription("List a user's cloud recordings in a date range of at most a month."),
				mcp.WithString("user_id", mcp.DefaultString("me")),
				mcp.WithString("from", mcp.Required(), mcp.Description("Start date, YYYY-MM-DD.")),
				mcp.WithString("to", mcp.Description("End date, YYYY-MM-DD; defaults to from.")),
				mcp.WithNumber("page_size", mcp.Min(1), mcp.Max(300), mcp.DefaultNumber(30)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listRecordings),
		},
	}
}

func (p *Zoom) listMeetings(ctx context.Context, a *argReader) (any, error) {
	user := orDefault(a.optionalString("user_id", 0), "me")
	kind := a.enum("type", "scheduled", "scheduled", "live", "upcoming", "upcoming_meetings", "previous_meetings")
	pageSize := a.integer("page_size", 30, 1, 300)
	next := a.optionalString("next_page_token", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"type":      {kind},
		"page_size": {strconv.Itoa(pageSize)},
	}
	if next != "" {
		q.Set("next_page_token", next)
	}
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "list_meetings",
		Path:     "/users/" + pathEscape(user) + "/meetings",
		Query:    q,
	})
	if err != nil {
		return nil, err
	}

	meetings := []map[string]any{}
	for _, m := range resp.Get("meetings").Array() {
		meetings = append(meetings, zoomMeeting(m))
	}
	out := map[string]any{
		"meetings":      meetings,
		"total_records": resp.Get("total_records").Int(),
	}
	setIf(out, "next_page_token", resp.Get("next_page_token").String())
	return out, nil
}

func (p *Zoom) getMeeting(ctx context.Context, a *argReader) (any, error) {
	id := a.requireString("meeting_id", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "get_meeting", Path: "/meetings/" + pathEscape(id)})
	if err != nil {
		return nil, err
	}
	return zoomMeeting(resp.JSON()), nil
}

func (p *Zoom) createMeeting(ctx context.Context, a *argReader) (any, error) {
	topic := a.requireString("topic", 200)
	start := a.optionalString("start_time", 0)
	duration := a.integer("duration", 60, 1, 1440)
	timezone := a.optionalString("timezone", 0)
	agenda := a.optionalString("agenda", 2000)
	waitingRoom := a.boolean("waiting_room", false)
	user := orDefault(a.optionalString("user_id", 0), "me")
	if err := a.err(); err != nil {
		return nil, err
	}
	if start != "" && !zoomValidTime(start) {
		return nil, &ArgError{Name: "start_time", Reason: "must be formatted as yyyy-MM-ddTHH:mm:ss with an optional offset"}
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, &ArgError{Name: "timezone", Reason: "unknown timezone"}
		}
	}

	// Type 1 is an instant meeting, type 2 a scheduled one.
	body := map[string]any{
		"topic":    topic,
		"type":     1,
		"duration": duration,
		"settings": map[string]any{"waiting_room": waitingRoom},
	}
	if start != "" {
		body["type"] = 2
		body["start_time"] = start
	}
	setIf(body, "timezone", timezone)
	setIf(body, "agenda", agenda)

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_meeting",
		Method:   http.MethodPost,
		Path:     "/users/" + pathEscape(user) + "/meetings",
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return zoomMeeting(resp.JSON()), nil
}

func (p *Zoom) deleteMeeting(ctx context.Context, a *argReader) (any, error) {
	id := a.requireString("meeting_id", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	if _, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "delete_meeting",
		Method:   http.MethodDelete,
		Path:     "/meetings/" + pathEscape(id),
	}); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "id": id}, nil
}

func (p *Zoom) listRecordings(ctx context.Context, a *argReader) (any, error) {
	user := orDefault(a.optionalString("user_id", 0), "me")
	from := a.date("from", true)
	to := a.date("to", false)
	if to.IsZero() {
		to = from
	}
	pageSize := a.integer("page_size", 30, 1, 300)
	if err := a.err(); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, &ArgError{Name: "to", Reason: "must not be before from"}
	}
	if to.Sub(from) > 31*24*time.Hour {
		return nil, &ArgError{Name: "to", Reason: "the range must not exceed one month"}
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "list_recordings",
		Path:     "/users/" + pathEscape(user) + "/recordings",
		Query: url.Values{
			"from":      {from.Format(time.DateOnly)},
			"to":        {to.Format(time.DateOnly)},
			"page_size": {strconv.Itoa(pageSize)},
		},
	})
	if err != nil {
		return nil, err
	}

	meetings := []map[string]any{}
	for _, m := range resp.Get("meetings").Array() {
		meeting := project(m,
			"id", "id",
			"uuid", "uuid",
			"topic", "topic",
			"start_time", "start_time",
			"duration", "duration",
			"total_size", "total_size",
			"share_url", "share_url",
		)
		meeting["files"] = projectEach(m.Get("recording_files"),
			"id", "id",
			"type", "recording_type",
			"file_type", "file_type",
			"file_size", "file_size",
			"status", "status",
			"play_url", "play_url",
			"download_url", "download_url",
		)
		meetings = append(meetings, meeting)
	}
	return map[string]any{
		"meetings":      meetings,
		"total_records": resp.Get("total_records").Int(),
	}, nil
}

func zoomValidTime(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func zoomMeeting(r gjson.Result) map[string]any {
	return project(r,
		"id", "id",
		"topic", "topic",
		"status", "status",
		"start_time", "start_time",
		"duration", "duration",
		"timezone", "timezone",
		"agenda", "agenda",
		"join_url", "join_url",
		"password", "password",
		"host_email", "host_email",
		"waiting_room", "settings.waiting_room",
	)
}
