package provider

import (
	"context"
	"fmt"
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

// Credential values recognized in an auth blob. The token is the application
// password.
const (
	WordPressSiteURL  = "site_url"
	WordPressUsername = "username"
)

// WordPress manages posts on a self-hosted or WordPress.com site through the
// core REST API. The site is chosen per request.
type WordPress struct {
	base
	cfg config.WordPress
}

var _ Provider = &WordPress{}

func NewWordPress(cfg config.WordPress, opts upstream.Options) *WordPress {
	p := &WordPress{cfg: cfg}
	p.base = newBase(config.ProviderWordPress, wordpressAPI(cfg.SiteURL), "", upstream.BasicAuth(p.credentials), opts)
	return p
}

func (p *WordPress) Instructions() string {
	return "Create, read, update and delete WordPress posts and list categories. Content is HTML."
}

var wordpressStatuses = []string{"publish", "draft", "pending", "private", "future"}

func (p *WordPress) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "list_posts"),
				mcp.WithDescription("List posts, newest first."),
				mcp.WithString("search", mcp.Description("Only posts matching this text.")),
				mcp.WithString("status", mcp.Enum(append(wordpressStatuses, "any")...), mcp.DefaultString("publish")),
				mcp.WithArray("categories", mcp.Description("Only posts in these category ids."), mcp.WithNumberItems()),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(10)),
				mcp.WithNumber("page", mcp.Min(1), mcp.DefaultNumber(1)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listPosts),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_post"),
				mcp.WithDescription("Get a post including its content."),
				mcp.WithNumber("post_id", mcp.Required(), mcp.Min(1)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getPost),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_post"),
				mcp.WithDescription("Create a post. Posts are drafts unless a status is given."),
				mcp.WithString("title", mcp.Required()),
				mcp.WithString("content", mcp.Description("HTML content.")),
				mcp.WithString("excerpt"),
				mcp.WithString("status", mcp.Enum(wordpressStatuses...), mcp.DefaultString("draft")),
				mcp.WithArray("categories", mcp.Description("Category ids."), mcp.WithNumberItems()),
				mcp.WithArray("tags", mcp.Description("Tag ids."), mcp.WithNumberItems()),
			),
			Handler: handle(p.createPost),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "update_post"),
				mcp.WithDescription("Update fields of a post. Only the given fields change."),
				mcp.WithNumber("post_id", mcp.Required(), mcp.Min(1)),
				mcp.WithString("title"),
				mcp.WithString("content"),
				mcp.WithString("excerpt"),
				mcp.WithString("status", mcp.Enum(wordpressStatuses...)),
				mcp.WithArray("categories", mcp.WithNumberItems()),
				mcp.WithArray("tags", mcp.WithNumberItems()),
			),
			Handler: handle(p.updatePost),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "delete_post"),
				mcp.WithDescription("Move a post to the trash, or delete it permanently with force."),
				mcp.WithNumber("post_id", mcp.Required(), mcp.Min(1)),
				mcp.WithBoolean("force", mcp.Description("Bypass the trash."), mcp.DefaultBool(false)),
				mcp.WithDestructiveHintAnnotation(true),
			),
			Handler: handle(p.deletePost),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_categories"),
				mcp.WithDescription("List post categories."),
				mcp.WithString("search"),
				mcp.WithBoolean("hide_empty", mcp.DefaultBool(false)),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(50)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listCategories),
		},
	}
}

func (p *WordPress) listPosts(ctx context.Context, a *argReader) (any, error) {
	search := a.optionalString("search", 0)
	status := a.enum("status", "publish", append(wordpressStatuses, "any")...)
	categories := a.integerSlice("categories")
	perPage := a.integer("per_page", 10, 1, 100)
	page := a.integer("page", 1, 1, 1<<20)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"status":   {status},
		"per_page": {strconv.Itoa(perPage)},
		"page":     {strconv.Itoa(page)},
	}
	if search != "" {
		q.Set("search", search)
	}
	if len(categories) > 0 {
		q.Set("categories", joinInts(categories))
	}
	resp, err := p.do(ctx, upstream.Request{Endpoint: "list_posts", Path: "/posts", Query: q})
	if err != nil {
		return nil, err
	}

	posts := []map[string]any{}
	for _, post := range resp.JSON().Array() {
		posts = append(posts, wordpressPost(post, false))
	}
	return map[string]any{
		"posts":       posts,
		"total":       headerInt(resp.Header, "X-WP-Total", len(posts)),
		"total_pages": headerInt(resp.Header, "X-WP-TotalPages", 1),
	}, nil
}

func (p *WordPress) getPost(ctx context.Context, a *argReader) (any, error) {
	id := a.requireInteger("post_id", 1, 1<<31-1)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, upstream.Request{Endpoint: "get_post", Path: "/posts/" + strconv.Itoa(id)})
	if err != nil {
		return nil, err
	}
	return wordpressPost(resp.JSON(), true), nil
}

func (p *WordPress) createPost(ctx context.Context, a *argReader) (any, error) {
	body := map[string]any{
		"title":  a.requireString("title", 0),
		"status": a.enum("status", "draft", wordpressStatuses...),
	}
	wordpressPostFields(a, body)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "create_post",
		Method:   http.MethodPost,
		Path:     "/posts",
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return wordpressPost(resp.JSON(), true), nil
}

func (p *WordPress) updatePost(ctx context.Context, a *argReader) (any, error) {
	id := a.requireInteger("post_id", 1, 1<<31-1)
	body := map[string]any{}
	setIf(body, "title", a.optionalString("title", 0))
	setIf(body, "status", a.enum("status", "", wordpressStatuses...))
	wordpressPostFields(a, body)
	if err := a.err(); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &ArgError{Name: "post_id", Reason: "no fields to update"}
	}

	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "update_post",
		Method:   http.MethodPost,
		Path:     "/posts/" + strconv.Itoa(id),
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	return wordpressPost(resp.JSON(), true), nil
}

func (p *WordPress) deletePost(ctx context.Context, a *argReader) (any, error) {
	id := a.requireInteger("post_id", 1, 1<<31-1)
	force := a.boolean("force", false)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, upstream.Request{
		Endpoint: "delete_post",
		Method:   http.MethodDelete,
		Path:     "/posts/" + strconv.Itoa(id),
		Query:    url.Values{"force": {strconv.FormatBool(force)}},
	})
	if err != nil {
		return nil, err
	}

	// A forced delete answers {"deleted": true, "previous": post}; trashing
	// answers with the trashed post.
	post := resp.JSON()
	if force {
		post = resp.Get("previous")
	}
	return map[string]any{
		"id":      id,
		"deleted": force,
		"trashed": !force,
		"post":    wordpressPost(post, false),
	}, nil
}

func (p *WordPress) listCategories(ctx context.Context, a *argReader) (any, error) {
	search := a.optionalString("search", 0)
	hideEmpty := a.boolean("hide_empty", false)
	perPage := a.integer("per_page", 50, 1, 100)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"per_page":   {strconv.Itoa(perPage)},
		"hide_empty": {strconv.FormatBool(hideEmpty)},
	}
	if search != "" {
		q.Set("search", search)
	}
	resp, err := p.do(ctx, upstream.Request{Endpoint: "list_categories", Path: "/categories", Query: q})
	if err != nil {
		return nil, err
	}

	categories := projectEach(resp.JSON(),
		"id", "id",
		"name", "name",
		"slug", "slug",
		"description", "description",
		"post_count", "count",
		"parent_id", "parent",
	)
	return map[string]any{
		"categories": categories,
		"total":      headerInt(resp.Header, "X-WP-Total", len(categories)),
	}, nil
}

// do sends req to the site of the current request.
func (p *WordPress) do(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	site := mcpcontext.ValueFromContext(ctx, WordPressSiteURL)
	if site == "" {
		site = p.cfg.SiteURL
	}
	if site == "" {
		return nil, fmt.Errorf("%s: no site URL: %w", p.name, upstream.ErrMissingCredentials)
	}
	req.BaseURL = wordpressAPI(site)
	return p.client.Do(ctx, req)
}

// credentials returns the application password login. A site named in the
// request credentials only gets the login from the same credentials.
func (p *WordPress) credentials(ctx context.Context) (string, string) {
	user := mcpcontext.ValueFromContext(ctx, WordPressUsername)
	pass := mcpcontext.TokenFromContext(ctx)

	site := mcpcontext.ValueFromContext(ctx, WordPressSiteURL)
	if site != "" && !sameBaseURL(wordpressAPI(site), wordpressAPI(p.cfg.SiteURL)) {
		if user == "" || pass == "" {
			return "", ""
		}
		return user, pass
	}

	if user == "" {
		user = p.cfg.Username
	}
	if pass == "" {
		pass = p.cfg.Key
	}
	return user, pass
}

func wordpressAPI(site string) string {
	if site == "" {
		return ""
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	return strings.TrimSuffix(site, "/") + "/wp-json/wp/v2"
}

func wordpressPostFields(a *argReader, body map[string]any) {
	setIf(body, "content", a.optionalString("content", 0))
	setIf(body, "excerpt", a.optionalString("excerpt", 0))
	if a.has("categories") {
		body["categories"] = a.integerSlice("categories")
	}
	if a.has("tags") {
		body["tags"] = a.integerSlice("tags")
	}
}

// wordpressPost maps the API's rendered/GMT fields to flat, readable names.
func wordpressPost(r gjson.Result, withContent bool) map[string]any {
	post := project(r,
		"id", "id",
		"title", "title.rendered",
		"excerpt", "excerpt.rendered",
		"status", "status",
		"slug", "slug",
		"url", "link",
		"author_id", "author",
		"published_at", "date_gmt",
		"modified_at", "modified_gmt",
		"categories", "categories",
		"tags", "tags",
	)
	if withContent {
		if content := r.Get("content.rendered"); content.Exists() {
			post["content"] = content.String()
		}
	}
	return post
}

func headerInt(h http.Header, key string, def int) int {
	n, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return def
	}
	return n
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
