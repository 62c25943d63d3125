package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

var miroStickyColors = []string{
	"gray", "light_yellow", "yellow", "orange", "light_green", "green", "dark_green", "cyan",
	"light_pink", "pink", "violet", "red", "light_blue", "blue", "dark_blue", "black",
}

// Miro works with boards and their items.
type Miro struct {
	base
}

var _ Provider = &Miro{}

func NewMiro(cfg config.Miro, opts upstream.Options) *Miro {
	return &Miro{
		base: newBase(config.ProviderMiro, cfg.BaseURL, "https://api.miro.com/v2", upstream.BearerAuth(cfg.Key), opts),
	}
}

func (p *Miro) Instructions() string {
	return "List and create Miro boards, read board items and add sticky notes."
}

func (p *Miro) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_boards"),
				mcp.WithDescription("List boards the user can access."),
				mcp.WithString("query", mcp.Description("Filter boards by name."), mcp.MaxLength(500)),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(50), mcp.DefaultNumber(20)),
				mcp.WithNumber("offset", mcp.Min(0), mcp.DefaultNumber(0)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listBoards),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_board"),
				mcp.WithDescription("Create a board."),
				mcp.WithString("name", mcp.Required(), mcp.MaxLength(60)),
				mcp.WithString("description", mcp.MaxLength(300)),
			),
			Handler: handle(p.createBoard),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_items"),
				mcp.WithDescription("List the items on a board."),
				mcp.WithString("board_id", mcp.Required()),
				mcp.WithString("type", mcp.Description("Only return items of this type."),
					mcp.Enum("sticky_note", "text", "shape", "card", "app_card", "image", "document", "frame", "embed")),
				mcp.WithNumber("limit", mcp.Min(10), mcp.Max(50), mcp.DefaultNumber(10)),
				mcp.WithString("cursor", mcp.Description("Paging cursor returned by a previous call.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listItems),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_sticky_note"),
				mcp.WithDescription("Add a sticky note to a board."),
				mcp.WithString("board_id", mcp.Required()),
				mcp.WithString("content", mcp.Required(), mcp.Description("Text of the note; simple HTML is allowed."), mcp.MaxLength(6000)),
				mcp.WithString("shape", mcp.Enum("square", "rectangle"), mcp.DefaultString("square")),
				mcp.WithString("color", mcp.Enum(miroStickyColors...), mcp.DefaultString("light_yellow")),
				mcp.WithNumber("x", mcp.Description("Horizontal position of the note's center."), mcp.DefaultNumber(0)),
				mcp.WithNumber("y", mcp.Description("Vertical position of the note's center."), mcp.DefaultNumber(0)),
			),
			Handler: handle(p.createStickyNote),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "delete_item"),
				mcp.WithDescription("Delete an item from a board."),
				mcp.WithString("board_id", mcp.Required()),
				mcp.WithString("item_id", mcp.Required()),
				mcp.WithDestructiveHintAnnotation(true),
			),
			Handler: handle(p.deleteItem),
		},
	}
}

func (p *Miro) listBoards(ctx context.Context, a *argReader) (any, error) {
	query := a.optionalString("query", 500)
	limit := a.integer("limit", 20, 1, 50)
	offset := a.integer("offset", 0, 0, 1<<30)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	if query != "" {
		q.Set("query", query)
	}
	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "list_boards", Path: "/boards", Query: q})
	if err != nil {
		return nil, err
	}

	boards := []map[string]any{}
	for _, b := range resp.Get("data").Array() {
		boards = append(boards, miroBoard(b))
	}
	return map[string]any{
		"boards": boards,
		"total":  resp.Get("total").Int(),
	}, nil
}

func (p *Miro) createBoard(ctx context.Context, a *argReader) (any, error) {
	name := a.requireString("name", 60)
	description := a.optionalString("description", 300)
	if err := a.err(); err != nil {
		return nil, err
	}

	body := map[string]any{"name": name}
	setIf(body, "description", description)
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_board",
		Method:   http.MethodPost,
		Path:     "/boards",
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return miroBoard(resp.JSON()), nil
}

func (p *Miro) listItems(ctx context.Context, a *argReader) (any, error) {
	board := a.requireString("board_id", 0)
	kind := a.enum("type", "", "sticky_note", "text", "shape", "card", "app_card", "image", "document", "frame", "embed")
	limit := a.integer("limit", 10, 10, 50)
	cursor := a.optionalString("cursor", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if kind != "" {
		q.Set("type", kind)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "list_items",
		Path:     "/boards/" + pathEscape(board) + "/items",
		Query:    q,
	})
	if err != nil {
		return nil, err
	}

	items := []map[string]any{}
	for _, item := range resp.Get("data").Array() {
		items = append(items, miroItem(item))
	}
	out := map[string]any{"items": items}
	setIf(out, "cursor", resp.Get("cursor").String())
	return out, nil
}

func (p *Miro) createStickyNote(ctx context.Context, a *argReader) (any, error) {
	board := a.requireString("board_id", 0)
	content := a.requireString("content", 6000)
	shape := a.enum("shape", "square", "square", "rectangle")
	color := a.enum("color", "light_yellow", miroStickyColors...)
	x := a.float("x", 0, -1e9, 1e9)
	y := a.float("y", 0, -1e9, 1e9)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_sticky_note",
		Method:   http.MethodPost,
		Path:     "/boards/" + pathEscape(board) + "/sticky_notes",
		JSON: map[string]any{
			"data":     map[string]any{"content": content, "shape": shape},
			"style":    map[string]any{"fillColor": color},
			"position": map[string]any{"x": x, "y": y},
		},
	})
	if err != nil {
		return nil, err
	}
	return miroItem(resp.JSON()), nil
}

func (p *Miro) deleteItem(ctx context.Context, a *argReader) (any, error) {
	board := a.requireString("board_id", 0)
	item := a.requireString("item_id", 0)
	if err := a.err(); err != nil {
		return nil, err
	}

	_, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "delete_item",
		Method:   http.MethodDelete,
		Path:     "/boards/" + pathEscape(board) + "/items/" + pathEscape(item),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "id": item}, nil
}

func miroBoard(r gjson.Result) map[string]any {
	return project(r,
		"id", "id",
		"name", "name",
		"description", "description",
		"url", "viewLink",
		"created_at", "createdAt",
		"modified_at", "modifiedAt",
		"owner", "owner.name",
	)
}

func miroItem(r gjson.Result) map[string]any {
	return project(r,
		"id", "id",
		"type", "type",
		"content", "data.content",
		"title", "data.title",
		"x", "position.x",
		"y", "position.y",
		"color", "style.fillColor",
		"created_at", "createdAt",
	)
}
