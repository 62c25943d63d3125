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
	"github.com/coder/mcpbridge/upstream"
)

// Reddit talks to the OAuth API, which requires a descriptive User-Agent.
type Reddit struct {
	base
}

var _ Provider = &Reddit{}

func NewReddit(cfg config.Reddit, opts upstream.Options) *Reddit {
	if cfg.UserAgent != "" {
		opts.UserAgent = cfg.UserAgent
	}
	return &Reddit{
		base: newBase(config.ProviderReddit, cfg.BaseURL, "https://oauth.reddit.com", upstream.BearerAuth(cfg.Key), opts),
	}
}

func (p *Reddit) Instructions() string {
	return "Search and read Reddit posts, comments and user profiles, and submit posts on behalf of the authenticated user."
}

var redditTimes = []string{"hour", "day", "week", "month", "year", "all"}

func (p *Reddit) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "search_posts"),
				mcp.WithDescription("Search posts across Reddit or within one subreddit."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search query."), mcp.MaxLength(512)),
				mcp.WithString("subreddit", mcp.Description("Restrict the search to this subreddit, without the r/ prefix.")),
				mcp.WithString("sort", mcp.Enum("relevance", "hot", "top", "new", "comments"), mcp.DefaultString("relevance")),
				mcp.WithString("time", mcp.Description("Time window."), mcp.Enum(redditTimes...), mcp.DefaultString("all")),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(25)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.searchPosts),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_subreddit_posts"),
				mcp.WithDescription("List posts of a subreddit."),
				mcp.WithString("subreddit", mcp.Required(), mcp.Description("Subreddit name, without the r/ prefix.")),
				mcp.WithString("sort", mcp.Enum("hot", "new", "top", "rising"), mcp.DefaultString("hot")),
				mcp.WithString("time", mcp.Description("Time window for top posts."), mcp.Enum(redditTimes...), mcp.DefaultString("day")),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(25)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getSubredditPosts),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_post_comments"),
				mcp.WithDescription("Get a post and its top-level comments."),
				mcp.WithString("post_id", mcp.Required(), mcp.Description("Post id, with or without the t3_ prefix.")),
				mcp.WithString("sort", mcp.Enum("confidence", "top", "new", "controversial", "old", "qa"), mcp.DefaultString("confidence")),
				mcp.WithNumber("limit", mcp.Min(1), mcp.Max(500), mcp.DefaultNumber(50)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getPostComments),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "create_post"),
				mcp.WithDescription("Submit a text or link post to a subreddit."),
				mcp.WithString("subreddit", mcp.Required(), mcp.Description("Subreddit name, without the r/ prefix.")),
				mcp.WithString("title", mcp.Required(), mcp.MaxLength(300)),
				mcp.WithString("kind", mcp.Enum("self", "link"), mcp.DefaultString("self")),
				mcp.WithString("text", mcp.Description("Body of a self post (markdown).")),
				mcp.WithString("url", mcp.Description("Target of a link post.")),
				mcp.WithBoolean("nsfw", mcp.DefaultBool(false)),
				mcp.WithBoolean("spoiler", mcp.DefaultBool(false)),
			),
			Handler: handle(p.createPost),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "get_user"),
				mcp.WithDescription("Get the public profile of a user."),
				mcp.WithString("username", mcp.Required(), mcp.Description("Username, without the u/ prefix.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.getUser),
		},
	}
}

func (p *Reddit) searchPosts(ctx context.Context, a *argReader) (any, error) {
	query := a.requireString("query", 512)
	sub := redditName(a.optionalString("subreddit", 0), "r/")
	sort := a.enum("sort", "relevance", "relevance", "hot", "top", "new", "comments")
	window := a.enum("time", "all", redditTimes...)
	limit := a.integer("limit", 25, 1, 100)
	if err := a.err(); err != nil {
		return nil, err
	}

	path := "/search"
	q := url.Values{
		"q":        {query},
		"sort":     {sort},
		"t":        {window},
		"limit":    {strconv.Itoa(limit)},
		"raw_json": {"1"},
	}
	if sub != "" {
		path = "/r/" + pathEscape(sub) + "/search"
		q.Set("restrict_sr", "true")
	}

	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "search_posts", Path: path, Query: q})
	if err != nil {
		return nil, err
	}
	return redditListing(resp.JSON()), nil
}

func (p *Reddit) getSubredditPosts(ctx context.Context, a *argReader) (any, error) {
	sub := redditName(a.requireString("subreddit", 0), "r/")
	sort := a.enum("sort", "hot", "hot", "new", "top", "rising")
	window := a.enum("time", "day", redditTimes...)
	limit := a.integer("limit", 25, 1, 100)
	if err := a.err(); err != nil {
		return nil, err
	}

	q := url.Values{
		"limit":    {strconv.Itoa(limit)},
		"raw_json": {"1"},
	}
	if sort == "top" {
		q.Set("t", window)
	}
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "get_subreddit_posts",
		Path:     "/r/" + pathEscape(sub) + "/" + sort,
		Query:    q,
	})
	if err != nil {
		return nil, err
	}
	return redditListing(resp.JSON()), nil
}

func (p *Reddit) getPostComments(ctx context.Context, a *argReader) (any, error) {
	id := strings.TrimPrefix(a.requireString("post_id", 0), "t3_")
	sort := a.enum("sort", "confidence", "confidence", "top", "new", "controversial", "old", "qa")
	limit := a.integer("limit", 50, 1, 500)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "get_post_comments",
		Path:     "/comments/" + pathEscape(id),
		Query: url.Values{
			"sort":     {sort},
			"limit":    {strconv.Itoa(limit)},
			"depth":    {"1"},
			"raw_json": {"1"},
		},
	})
	if err != nil {
		return nil, err
	}

	// The response is a pair of listings: the post, then its comments.
	listings := resp.JSON().Array()
	if len(listings) < 2 {
		return nil, fmt.Errorf("unexpected comments response for post %q", id)
	}
	comments := []map[string]any{}
	for _, c := range listings[1].Get("data.children").Array() {
		if c.Get("kind").String() != "t1" {
			continue
		}
		comments = append(comments, project(c.Get("data"),
			"id", "id",
			"author", "author",
			"body", "body",
			"score", "score",
			"created_utc", "created_utc",
		))
	}
	return map[string]any{
		"post":     redditPost(listings[0].Get("data.children.0.data")),
		"comments": comments,
	}, nil
}

func (p *Reddit) createPost(ctx context.Context, a *argReader) (any, error) {
	sub := redditName(a.requireString("subreddit", 0), "r/")
	title := a.requireString("title", 300)
	kind := a.enum("kind", "self", "self", "link")
	text := a.optionalString("text", 40000)
	link := a.optionalString("url", 0)
	nsfw := a.boolean("nsfw", false)
	spoiler := a.boolean("spoiler", false)
	if err := a.err(); err != nil {
		return nil, err
	}
	if kind == "link" && link == "" {
		return nil, &ArgError{Name: "url", Reason: "is required for link posts"}
	}

	form := url.Values{
		"api_type": {"json"},
		"sr":       {sub},
		"title":    {title},
		"kind":     {kind},
		"nsfw":     {strconv.FormatBool(nsfw)},
		"spoiler":  {strconv.FormatBool(spoiler)},
	}
	if kind == "link" {
		form.Set("url", link)
	} else {
		form.Set("text", text)
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "create_post",
		Method:   http.MethodPost,
		Path:     "/api/submit",
		Form:     form,
	})
	if err != nil {
		return nil, err
	}

	// Submission errors come back with a 200 as [code, message, field] triples.
	if errs := resp.Get("json.errors").Array(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Get("0").String()+": "+e.Get("1").String())
		}
		return nil, fmt.Errorf("reddit rejected the post: %s", strings.Join(msgs, "; "))
	}
	return project(resp.Get("json.data"),
		"id", "id",
		"name", "name",
		"url", "url",
	), nil
}

func (p *Reddit) getUser(ctx context.Context, a *argReader) (any, error) {
	name := redditName(a.requireString("username", 0), "u/")
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "get_user",
		Path:     "/user/" + pathEscape(name) + "/about",
		Query:    url.Values{"raw_json": {"1"}},
	})
	if err != nil {
		return nil, err
	}
	return project(resp.Get("data"),
		"name", "name",
		"id", "id",
		"link_karma", "link_karma",
		"comment_karma", "comment_karma",
		"total_karma", "total_karma",
		"created_utc", "created_utc",
		"is_gold", "is_gold",
		"is_mod", "is_mod",
		"verified", "verified",
	), nil
}

func redditName(name, prefix string) string {
	name = strings.TrimPrefix(name, "/")
	return strings.TrimPrefix(name, prefix)
}

func redditListing(r gjson.Result) map[string]any {
	posts := []map[string]any{}
	for _, c := range r.Get("data.children").Array() {
		posts = append(posts, redditPost(c.Get("data")))
	}
	out := map[string]any{"posts": posts}
	if after := r.Get("data.after").String(); after != "" {
		out["after"] = after
	}
	return out
}

func redditPost(r gjson.Result) map[string]any {
	post := project(r,
		"id", "id",
		"title", "title",
		"subreddit", "subreddit",
		"author", "author",
		"score", "score",
		"num_comments", "num_comments",
		"url", "url",
		"created_utc", "created_utc",
		"text", "selftext",
	)
	if post["text"] == "" {
		delete(post, "text")
	}
	if permalink := r.Get("permalink").String(); permalink != "" {
		post["permalink"] = "https://www.reddit.com" + permalink
	}
	return post
}
