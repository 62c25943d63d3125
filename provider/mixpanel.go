package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/upstream"
)

// Credential values recognized in an auth blob.
const (
	MixpanelProjectToken   = "project_token"
	MixpanelProjectID      = "project_id"
	MixpanelServiceAccount = "service_account_username"
)

// Mixpanel sends events and profile updates to the ingestion API and runs
// reports against the query API. The two APIs authenticate differently: the
// ingestion API only needs the project token in the payload.
type Mixpanel struct {
	base
	cfg   config.Mixpanel
	query *upstream.Client
	clock quartz.Clock
}

var _ Provider = &Mixpanel{}

func NewMixpanel(cfg config.Mixpanel, opts upstream.Options) *Mixpanel {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	p := &Mixpanel{
		base:  newBase(config.ProviderMixpanel, cfg.IngestionURL, "https://api.mixpanel.com", nil, opts),
		cfg:   cfg,
		clock: clock,
	}
	p.query = upstream.NewClient(config.ProviderMixpanel, orDefault(cfg.QueryURL, "https://mixpanel.com/api"), upstream.BasicAuth(p.queryCredentials), opts)
	return p
}

func (p *Mixpanel) Instructions() string {
	return "Track events and update user profiles in Mixpanel, and query event segmentation and top events. Dates are YYYY-MM-DD in the project's timezone."
}

func (p *Mixpanel) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "track_event"),
				mcp.WithDescription("Track an event for a user."),
				mcp.WithString("event", mcp.Required(), mcp.Description("Event name."), mcp.MaxLength(255)),
				mcp.WithString("distinct_id", mcp.Required(), mcp.Description("Id of the user who performed the event.")),
				mcp.WithObject("properties", mcp.Description("Additional event properties.")),
				mcp.WithNumber("time", mcp.Description("Unix time of the event in seconds; defaults to now.")),
			),
			Handler: handle(p.trackEvent),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "set_profile"),
				mcp.WithDescription("Set properties on a user profile, creating it if needed."),
				mcp.WithString("distinct_id", mcp.Required()),
				mcp.WithObject("properties", mcp.Required(), mcp.Description("Profile properties to set.")),
				mcp.WithBoolean("set_once", mcp.Description("Only set properties which do not exist yet."), mcp.DefaultBool(false)),
			),
			Handler: handle(p.setProfile),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "query_segmentation"),
				mcp.WithDescription("Count occurrences of an event over time, optionally segmented by a property."),
				mcp.WithString("event", mcp.Required()),
				mcp.WithString("from_date", mcp.Required(), mcp.Description("Start date, YYYY-MM-DD.")),
				mcp.WithString("to_date", mcp.Required(), mcp.Description("End date, YYYY-MM-DD.")),
				mcp.WithString("unit", mcp.Enum("minute", "hour", "day", "week", "month"), mcp.DefaultString("day")),
				mcp.WithString("on", mcp.Description(`Property expression to segment by, e.g. properties["country"].`)),
				mcp.WithString("where", mcp.Description("Filter expression.")),
				mcp.WithString("project_id"),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.querySegmentation),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "top_events"),
				mcp.WithDescription("List today's most common events."),
				mcp.WithString("type", mcp.Enum("general", "unique", "average"), mcp.DefaultString("general")),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(10)),
				mcp.WithString("project_id"),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.topEvents),
		},
	}
}

func (p *Mixpanel) trackEvent(ctx context.Context, a *argReader) (any, error) {
	event := a.requireString("event", 255)
	distinctID := a.requireString("distinct_id", 0)
	extra := a.object("properties", false)
	at := a.integer("time", int(p.clock.Now().Unix()), 0, 1<<40)
	if err := a.err(); err != nil {
		return nil, err
	}
	token := p.projectToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("%s: %w", p.name, upstream.ErrMissingCredentials)
	}

	props := make(map[string]any, len(extra)+4)
	maps.Copy(props, extra)
	props["token"] = token
	props["distinct_id"] = distinctID
	props["time"] = at
	props["$insert_id"] = uuid.NewString()

	if err := p.ingest(ctx, "track_event", "/track", []any{map[string]any{
		"event":      event,
		"properties": props,
	}}); err != nil {
		return nil, err
	}
	return map[string]any{
		"tracked":   true,
		"event":     event,
		"insert_id": props["$insert_id"],
	}, nil
}

func (p *Mixpanel) setProfile(ctx context.Context, a *argReader) (any, error) {
	distinctID := a.requireString("distinct_id", 0)
	props := a.object("properties", true)
	once := a.boolean("set_once", false)
	if err := a.err(); err != nil {
		return nil, err
	}
	token := p.projectToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("%s: %w", p.name, upstream.ErrMissingCredentials)
	}

	op := "$set"
	if once {
		op = "$set_once"
	}
	if err := p.ingest(ctx, "set_profile", "/engage", []any{map[string]any{
		"$token":       token,
		"$distinct_id": distinctID,
		op:             props,
	}}); err != nil {
		return nil, err
	}
	return map[string]any{
		"updated":     true,
		"distinct_id": distinctID,
		"operation":   op,
	}, nil
}

// ingest posts records to the ingestion API. With verbose=1 rejected
// payloads still answer 200, with status 0 and an error message.
func (p *Mixpanel) ingest(ctx context.Context, endpoint, path string, records []any) error {
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		Path:     path,
		Query:    url.Values{"verbose": {"1"}},
		JSON:     records,
	})
	if err != nil {
		return err
	}
	if resp.Get("status").Int() != 1 {
		msg := resp.Get("error").String()
		if msg == "" {
			msg = "request rejected"
		}
		return errors.New("mixpanel: " + msg)
	}
	return nil
}

func (p *Mixpanel) querySegmentation(ctx context.Context, a *argReader) (any, error) {
	event := a.requireString("event", 255)
	from := a.date("from_date", true)
	to := a.date("to_date", true)
	unit := a.enum("unit", "day", "minute", "hour", "day", "week", "month")
	on := a.optionalString("on", 0)
	where := a.optionalString("where", 0)
	projectID := p.projectID(ctx, a)
	if err := a.err(); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, &ArgError{Name: "to_date", Reason: "must not be before from_date"}
	}

	q := url.Values{
		"project_id": {projectID},
		"event":      {event},
		"from_date":  {from.Format(time.DateOnly)},
		"to_date":    {to.Format(time.DateOnly)},
		"unit":       {unit},
	}
	if on != "" {
		q.Set("on", on)
	}
	if where != "" {
		q.Set("where", where)
	}
	resp, err := p.query.Do(ctx, upstream.Request{Endpoint: "query_segmentation", Path: "/2.0/segmentation", Query: q})
	if err != nil {
		return nil, err
	}
	return resp.Get("data"), nil
}

func (p *Mixpanel) topEvents(ctx context.Context, a *argReader) (any, error) {
	kind := a.enum("type", "general", "general", "unique", "average")
	limit := a.integer("limit", 10, 1, 100)
	projectID := p.projectID(ctx, a)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.query.Do(ctx, upstream.Request{
		Endpoint: "top_events",
		Path:     "/2.0/events/top",
		Query: url.Values{
			"project_id": {projectID},
			"type":       {kind},
			"limit":      {strconv.Itoa(limit)},
		},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"events": projectEach(resp.Get("events"),
			"event", "event",
			"amount", "amount",
			"percent_change", "percent_change",
		),
		"type": kind,
	}, nil
}

func (p *Mixpanel) projectToken(ctx context.Context) string {
	if tok := mcpcontext.ValueFromContext(ctx, MixpanelProjectToken); tok != "" {
		return tok
	}
	if p.cfg.ProjectToken != "" {
		return p.cfg.ProjectToken
	}
	return mcpcontext.TokenFromContext(ctx)
}

func (p *Mixpanel) projectID(ctx context.Context, a *argReader) string {
	id := a.optionalString("project_id", 0)
	if id == "" {
		id = mcpcontext.ValueFromContext(ctx, MixpanelProjectID)
	}
	if id == "" {
		id = p.cfg.ProjectID
	}
	if id == "" {
		a.fail("project_id", "is required")
	}
	return id
}

// queryCredentials prefers a service account from the request. A bare token
// is treated as a project API secret, which Mixpanel accepts as the basic
// auth username.
func (p *Mixpanel) queryCredentials(ctx context.Context) (string, string) {
	if secret := mcpcontext.TokenFromContext(ctx); secret != "" {
		if user := mcpcontext.ValueFromContext(ctx, MixpanelServiceAccount); user != "" {
			return user, secret
		}
		return secret, ""
	}
	if p.cfg.ServiceAccount != "" {
		return p.cfg.ServiceAccount, p.cfg.Secret
	}
	return p.cfg.Secret, ""
}
