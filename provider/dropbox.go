package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

// Dropbox endpoints; every call is an RPC-style POST.
// See https://www.dropbox.com/developers/documentation/http/documentation.
const (
	dropboxCreateFolder  = "/files/create_folder_v2"
	dropboxListFolder    = "/files/list_folder"
	dropboxGetMetadata   = "/files/get_metadata"
	dropboxSearch        = "/files/search_v2"
	dropboxMove          = "/files/move_v2"
	dropboxDelete        = "/files/delete_v2"
	dropboxGetSpaceUsage = "/users/get_space_usage"
)

// Dropbox exposes file management on a Dropbox account.
type Dropbox struct {
	base
}

var _ Provider = &Dropbox{}

func NewDropbox(cfg config.Dropbox, opts upstream.Options) *Dropbox {
	return &Dropbox{
		base: newBase(config.ProviderDropbox, cfg.BaseURL, "https://api.dropboxapi.com/2", upstream.BearerAuth(cfg.Key), opts),
	}
}

func (p *Dropbox) Instructions() string {
	return "Manage files and folders in Dropbox. Paths are absolute and start with '/'; the root folder is ''."
}

func (p *Dropbox) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "create_folder"),
				mcp.WithDescription("Create a folder at the given path."),
				mcp.WithString("path", mcp.Required(), mcp.Description("Path of the folder to create, e.g. /Reports/2024.")),
				mcp.WithBoolean("autorename", mcp.Description("Rename the folder if the path already exists."), mcp.DefaultBool(false)),
			),
			Handler: handle(p.createFolder),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_folder"),
				mcp.WithDescription("List the contents of a folder."),
				mcp.WithString("path", mcp.Description("Folder path; omit for the root folder.")),
				mcp.WithBoolean("recursive", mcp.Description("Include the contents of all subfolders."), mcp.DefaultBool(false)),
				mcp.WithNumber("limit", mcp.Description("Maximum number of entries to return."), mcp.Min(1), mcp.Max(2000), mcp.DefaultNumber(100)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listFolder),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_metadata"),
				mcp.WithDescription("Get the metadata of a file or folder."),
				mcp.WithString("path", mcp.Required(), mcp.Description("Path or id (id:...) of the file or folder.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getMetadata),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "search"),
				mcp.WithDescription("Search files and folders by name and content."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search string."), mcp.MaxLength(1000)),
				mcp.WithString("path", mcp.Description("Restrict the search to this folder.")),
				mcp.WithNumber("max_results", mcp.Description("Maximum number of matches."), mcp.Min(1), mcp.Max(1000), mcp.DefaultNumber(20)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.search),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "move"),
				mcp.WithDescription("Move or rename a file or folder."),
				mcp.WithString("from_path", mcp.Required(), mcp.Description("Current path.")),
				mcp.WithString("to_path", mcp.Required(), mcp.Description("New path.")),
				mcp.WithBoolean("autorename", mcp.Description("Rename the entry if the destination exists."), mcp.DefaultBool(false)),
			),
			Handler: handle(p.move),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "delete"),
				mcp.WithDescription("Delete a file or folder, including all of a folder's contents."),
				mcp.WithString("path", mcp.Required(), mcp.Description("Path of the entry to delete.")),
				mcp.WithDestructiveHintAnnotation(true),
			),
			Handler: handle(p.delete),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_space_usage"),
				mcp.WithDescription("Get the used and allocated space of the account, in bytes."),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getSpaceUsage),
		},
	}
}

func (p *Dropbox) createFolder(ctx context.Context, a *argReader) (any, error) {
	path := dropboxPath(a.requireString("path", 0))
	autorename := a.boolean("autorename", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.rpc(ctx, "create_folder", dropboxCreateFolder, map[string]any{
		"path":       path,
		"autorename": autorename,
	})
	if err != nil {
		return nil, err
	}
	return dropboxEntry(resp.Get("metadata"), "folder"), nil
}

func (p *Dropbox) listFolder(ctx context.Context, a *argReader) (any, error) {
	path := dropboxPath(a.optionalString("path", 0))
	if path == "/" {
		path = ""
	}
	recursive := a.boolean("recursive", false)
	limit := a.integer("limit", 100, 1, 2000)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.rpc(ctx, "list_folder", dropboxListFolder, map[string]any{
		"path":            path,
		"recursive":       recursive,
		"limit":           limit,
		"include_deleted": false,
	})
	if err != nil {
		return nil, err
	}

	entries := []map[string]any{}
	for _, e := range resp.Get("entries").Array() {
		entries = append(entries, dropboxEntry(e, ""))
	}
	return map[string]any{
		"entries":  entries,
		"cursor":   resp.Get("cursor").String(),
		"has_more": resp.Get("has_more").Bool(),
	}, nil
}

func (p *Dropbox) getMetadata(ctx context.Context, a *argReader) (any, error) {
	path := dropboxPath(a.requireString("path", 0))
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.rpc(ctx, "get_metadata", dropboxGetMetadata, map[string]any{
		"path":               path,
		"include_media_info": false,
	})
	if err != nil {
		return nil, err
	}
	return dropboxEntry(resp.JSON(), ""), nil
}

func (p *Dropbox) search(ctx context.Context, a *argReader) (any, error) {
	query := a.requireString("query", 1000)
	path := dropboxPath(a.optionalString("path", 0))
	maxResults := a.integer("max_results", 20, 1, 1000)
	if err := a.err(); err != nil {
		return nil, err
	}

	options := map[string]any{"max_results": maxResults}
	if path != "" && path != "/" {
		options["path"] = path
	}
	resp, err := p.rpc(ctx, "search", dropboxSearch, map[string]any{
		"query":   query,
		"options": options,
	})
	if err != nil {
		return nil, err
	}

	matches := []map[string]any{}
	for _, m := range resp.Get("matches").Array() {
		matches = append(matches, dropboxEntry(m.Get("metadata.metadata"), ""))
	}
	return map[string]any{
		"matches":  matches,
		"has_more": resp.Get("has_more").Bool(),
	}, nil
}

func (p *Dropbox) move(ctx context.Context, a *argReader) (any, error) {
	from := dropboxPath(a.requireString("from_path", 0))
	to := dropboxPath(a.requireString("to_path", 0))
	autorename := a.boolean("autorename", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.rpc(ctx, "move", dropboxMove, map[string]any{
		"from_path":  from,
		"to_path":    to,
		"autorename": autorename,
	})
	if err != nil {
		return nil, err
	}
	return dropboxEntry(resp.Get("metadata"), ""), nil
}

func (p *Dropbox) delete(ctx context.Context, a *argReader) (any, error) {
	path := dropboxPath(a.requireString("path", 0))
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.rpc(ctx, "delete", dropboxDelete, map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	entry := dropboxEntry(resp.Get("metadata"), "")
	entry["deleted"] = true
	return entry, nil
}

func (p *Dropbox) getSpaceUsage(ctx context.Context, _ *argReader) (any, error) {
	// Endpoints without arguments take a literal null body.
	resp, err := p.rpc(ctx, "get_space_usage", dropboxGetSpaceUsage, []byte("null"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"used":            resp.Get("used").Int(),
		"allocated":       resp.Get("allocation.allocated").Int(),
		"allocation_type": resp.Get(`allocation.\.tag`).String(),
	}, nil
}

func (p *Dropbox) rpc(ctx context.Context, endpoint, path string, body any) (*upstream.Response, error) {
	return p.client.Do(ctx, upstream.Request{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		Path:     path,
		JSON:     body,
	})
}

// dropboxPath normalizes a user supplied path. Ids, revisions and namespace
// relative paths are passed through.
func dropboxPath(p string) string {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasPrefix(p, "id:") || strings.HasPrefix(p, "rev:") || strings.HasPrefix(p, "ns:") {
		return p
	}
	return "/" + p
}

func dropboxEntry(r gjson.Result, kind string) map[string]any {
	entry := project(r,
		"type", `\.tag`,
		"name", "name",
		"path", "path_display",
		"id", "id",
		"size", "size",
		"modified", "server_modified",
		"rev", "rev",
	)
	if kind != "" {
		entry["type"] = kind
	}
	return entry
}
