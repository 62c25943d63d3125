package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/upstream"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Perplexity answers questions with web-grounded Sonar models through the
// OpenAI compatible chat completions API.
type Perplexity struct {
	base
	key string
	svc openai.ChatCompletionService
}

var _ Provider = &Perplexity{}

func NewPerplexity(cfg config.Perplexity, opts upstream.Options) *Perplexity {
	p := &Perplexity{
		base: newBase(config.ProviderPerplexity, cfg.BaseURL, "https://api.perplexity.ai", nil, opts),
		key:  cfg.Key,
	}
	// Retries are disabled; a failed call is reported to the caller as is.
	p.svc = openai.NewChatCompletionService(
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(p.client.HTTPClient()),
		option.WithMaxRetries(0),
	)
	return p
}

func (p *Perplexity) Instructions() string {
	return "Ask Perplexity questions answered from live web search. Answers end with numbered citations."
}

func (p *Perplexity) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "ask"),
				mcp.WithDescription("Ask a question and get a concise, cited answer."),
				mcp.WithString("question", mcp.Required(), mcp.MaxLength(10000)),
				mcp.WithString("system_prompt", mcp.Description("Instructions for the style of the answer.")),
				mcp.WithString("model", mcp.Enum("sonar", "sonar-pro"), mcp.DefaultString("sonar")),
				mcp.WithNumber("max_tokens", mcp.Min(1), mcp.Max(8192)),
				mcp.WithNumber("temperature", mcp.Min(0), mcp.Max(2)),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.ask),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "research"),
				mcp.WithDescription("Run an in-depth research query across many sources. Slower than ask."),
				mcp.WithString("query", mcp.Required(), mcp.MaxLength(10000)),
				mcp.WithString("recency", mcp.Description("Only use sources published within this window."), mcp.Enum("hour", "day", "week", "month", "year")),
				mcp.WithArray("domains", mcp.Description("Restrict sources to these domains; prefix with - to exclude one."), mcp.WithStringItems()),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.research),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "reason"),
				mcp.WithDescription("Answer a question that needs multi-step reasoning. The reasoning itself is omitted."),
				mcp.WithString("question", mcp.Required(), mcp.MaxLength(10000)),
				mcp.WithString("model", mcp.Enum("sonar-reasoning", "sonar-reasoning-pro"), mcp.DefaultString("sonar-reasoning-pro")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.reason),
		},
	}
}

func (p *Perplexity) ask(ctx context.Context, a *argReader) (any, error) {
	question := a.requireString("question", 10000)
	system := a.optionalString("system_prompt", 0)
	model := a.enum("model", "sonar", "sonar", "sonar-pro")
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(model)}
	if a.has("max_tokens") {
		params.MaxTokens = openai.Int(int64(a.integer("max_tokens", 0, 1, 8192)))
	}
	if a.has("temperature") {
		params.Temperature = openai.Float(a.float("temperature", 0, 0, 2))
	}
	if err := a.err(); err != nil {
		return nil, err
	}

	if system != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(system))
	}
	params.Messages = append(params.Messages, openai.UserMessage(question))
	return p.complete(ctx, "ask", params)
}

func (p *Perplexity) research(ctx context.Context, a *argReader) (any, error) {
	query := a.requireString("query", 10000)
	recency := a.enum("recency", "", "hour", "day", "week", "month", "year")
	domains := a.stringSlice("domains", false, 20)
	if err := a.err(); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel("sonar-deep-research"),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(query)},
	}
	var opts []option.RequestOption
	if recency != "" {
		opts = append(opts, option.WithJSONSet("search_recency_filter", recency))
	}
	if len(domains) > 0 {
		opts = append(opts, option.WithJSONSet("search_domain_filter", domains))
	}
	return p.complete(ctx, "research", params, opts...)
}

func (p *Perplexity) reason(ctx context.Context, a *argReader) (any, error) {
	question := a.requireString("question", 10000)
	model := a.enum("model", "sonar-reasoning-pro", "sonar-reasoning", "sonar-reasoning-pro")
	if err := a.err(); err != nil {
		return nil, err
	}

	return p.complete(ctx, "reason", openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(question)},
	})
}

func (p *Perplexity) complete(ctx context.Context, endpoint string, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (string, error) {
	key := mcpcontext.TokenFromContext(ctx)
	if key == "" {
		key = p.key
	}
	if key == "" {
		return "", fmt.Errorf("%s: %w", p.name, upstream.ErrMissingCredentials)
	}
	opts = append(opts, option.WithAPIKey(key))

	completion, err := p.svc.New(upstream.WithEndpoint(ctx, endpoint), params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &upstream.Error{
				StatusCode: apiErr.StatusCode,
				Status:     fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode)),
				Body:       []byte(apiErr.RawJSON()),
			}
		}
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("perplexity returned no choices")
	}

	answer := thinkBlock.ReplaceAllString(completion.Choices[0].Message.Content, "")
	answer = strings.TrimSpace(answer)
	return answer + formatCitations(gjson.Parse(completion.RawJSON())), nil
}

// formatCitations renders the citation URLs of a raw completion. Newer
// responses carry them in search_results.
func formatCitations(raw gjson.Result) string {
	urls := raw.Get("citations").Array()
	if len(urls) == 0 {
		urls = raw.Get("search_results.#.url").Array()
	}
	if len(urls) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nCitations:")
	for i, u := range urls {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, u.String())
	}
	return b.String()
}
