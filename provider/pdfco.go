package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

// pdfcoPages matches page selections such as "1,3-5,7-".
var pdfcoPages = regexp.MustCompile(`^\d+(-\d*)?(,\d+(-\d*)?)*$`)

// PDFco inspects, converts, merges and splits PDF documents given by URL.
type PDFco struct {
	base
}

var _ Provider = &PDFco{}

func NewPDFco(cfg config.PDFco, opts upstream.Options) *PDFco {
	return &PDFco{
		base: newBase(config.ProviderPDFco, cfg.BaseURL, "https://api.pdf.co/v1", upstream.HeaderAuth("x-api-key", cfg.Key), opts),
	}
}

func (p *PDFco) Instructions() string {
	return "Work with PDF documents reachable by URL: read their metadata, extract text, merge and split them. " +
		"Output files are returned as temporary URLs."
}

func (p *PDFco) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "pdf_info"),
				mcp.WithDescription("Get the page count and document metadata of a PDF."),
				mcp.WithString("url", mcp.Required(), mcp.Description("URL of the PDF.")),
				mcp.WithString("password", mcp.Description("Password of a protected PDF.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.info),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "pdf_to_text"),
				mcp.WithDescription("Extract the text of a PDF."),
				mcp.WithString("url", mcp.Required(), mcp.Description("URL of the PDF.")),
				mcp.WithString("pages", mcp.Description("Pages to extract, 1-based, e.g. \"1,3-5\"; all pages when omitted.")),
				mcp.WithString("password", mcp.Description("Password of a protected PDF.")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.toText),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "merge"),
				mcp.WithDescription("Merge PDFs into one document, in the given order."),
				mcp.WithArray("urls", mcp.Required(), mcp.MinItems(2), mcp.MaxItems(50), mcp.WithStringItems()),
				mcp.WithString("name", mcp.Description("File name of the merged PDF."), mcp.DefaultString("merged.pdf")),
			),
			Handler: handle(p.merge),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "split"),
				mcp.WithDescription("Split a PDF into several documents, one per page range."),
				mcp.WithString("url", mcp.Required(), mcp.Description("URL of the PDF.")),
				mcp.WithString("pages", mcp.Required(), mcp.Description("Comma separated page ranges, e.g. \"1-2,3-\". Each range becomes a document.")),
				mcp.WithString("name", mcp.Description("Base file name of the parts.")),
			),
			Handler: handle(p.split),
		},
	}
}

func (p *PDFco) info(ctx context.Context, a *argReader) (any, error) {
	body := map[string]any{
		"url":   pdfcoURL(a, "url"),
		"async": false,
	}
	setIf(body, "password", a.optionalString("password", 0))
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "pdf_info", "/pdf/info", body)
	if err != nil {
		return nil, err
	}
	return project(resp.JSON(),
		"page_count", "info.PageCount",
		"title", "info.Title",
		"author", "info.Author",
		"subject", "info.Subject",
		"producer", "info.Producer",
		"creator", "info.Creator",
		"created_at", "info.CreationDate",
		"modified_at", "info.ModificationDate",
		"encrypted", "info.Encrypted",
		"page_size", "info.PageRectangle",
	), nil
}

func (p *PDFco) toText(ctx context.Context, a *argReader) (any, error) {
	body := map[string]any{
		"url":    pdfcoURL(a, "url"),
		"inline": true,
		"async":  false,
	}
	if pages := pdfcoPageRanges(a, "pages", false); pages != "" {
		body["pages"] = pages
	}
	setIf(body, "password", a.optionalString("password", 0))
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "pdf_to_text", "/pdf/convert/to/text", body)
	if err != nil {
		return nil, err
	}
	return resp.Get("body").String(), nil
}

func (p *PDFco) merge(ctx context.Context, a *argReader) (any, error) {
	urls := a.stringSlice("urls", true, 50)
	if len(urls) == 1 {
		a.fail("urls", "must have at least 2 items")
	}
	for _, u := range urls {
		if !isHTTPURL(u) {
			a.fail("urls", "must be http or https URLs")
			break
		}
	}
	name := orDefault(a.optionalString("name", 255), "merged.pdf")
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "merge", "/pdf/merge", map[string]any{
		"url":   strings.Join(urls, ","),
		"name":  name,
		"async": false,
	})
	if err != nil {
		return nil, err
	}
	return project(resp.JSON(),
		"url", "url",
		"name", "name",
		"page_count", "pageCount",
	), nil
}

func (p *PDFco) split(ctx context.Context, a *argReader) (any, error) {
	body := map[string]any{
		"url":   pdfcoURL(a, "url"),
		"pages": pdfcoPageRanges(a, "pages", true),
		"async": false,
	}
	setIf(body, "name", a.optionalString("name", 255))
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "split", "/pdf/split", body)
	if err != nil {
		return nil, err
	}
	return project(resp.JSON(),
		"urls", "urls",
		"page_count", "pageCount",
	), nil
}

// post issues a synchronous job. PDF.co reports failures in the body, at
// times with a 200 status.
func (p *PDFco) post(ctx context.Context, endpoint, path string, body map[string]any) (*upstream.Response, error) {
	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		Path:     path,
		JSON:     body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Get("error").Bool() {
		msg := resp.Get("message").String()
		if msg == "" {
			msg = "request failed"
		}
		return nil, fmt.Errorf("pdf.co: %s", msg)
	}
	return resp, nil
}

func pdfcoURL(a *argReader, name string) string {
	u := a.requireString(name, 0)
	if u != "" && !isHTTPURL(u) {
		a.fail(name, "must be an http or https URL")
		return ""
	}
	return u
}

func pdfcoPageRanges(a *argReader, name string, required bool) string {
	pages := strings.ReplaceAll(a.string(name, required, 0), " ", "")
	if pages != "" && !pdfcoPages.MatchString(pages) {
		a.fail(name, "must be page numbers or ranges such as \"1,3-5,7-\"")
		return ""
	}
	return pages
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
