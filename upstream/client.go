// Package upstream issues the outbound REST calls made by provider adapters.
//
// A [Client] is bound to one provider. Every call to [Client.Do] sends exactly
// one HTTP request through an instrumented transport (tracing, metrics,
// circuit breaking and optional dumps) and either returns the response or an
// error describing why the call failed. There are no retries.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/buildinfo"
)

const (
	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps a buffered upstream response body.
	DefaultMaxResponseBytes = 32 << 20

	maxErrorBody = 2 << 10
)

// ErrMissingCredentials is returned, before any network I/O, when neither the
// request context nor the provider configuration supplies a credential.
var ErrMissingCredentials = errors.New("missing credentials")

// ErrResponseTooLarge is returned for bodies beyond the client's size cap.
var ErrResponseTooLarge = errors.New("upstream response too large")

// Error is returned for non-2xx upstream responses.
type Error struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *Error) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	if body == "" {
		return fmt.Sprintf("upstream error: %s", e.Status)
	}
	return fmt.Sprintf("upstream error: %s: %s", e.Status, body)
}

// Request describes one upstream call.
type Request struct {
	// Endpoint is a static label naming the operation, e.g. "list_folder".
	// It keys metrics, spans, circuit breakers and dump directories, so it must
	// never contain request-specific values.
	Endpoint string
	Method   string
	// BaseURL overrides the client's base URL, for tenant-scoped APIs.
	BaseURL string
	Path    string
	Query   url.Values

	// At most one of JSON, Form and Body is used, in that order.
	JSON        any
	Form        url.Values
	Body        io.Reader
	ContentType string

	Header http.Header
	// Auth overrides the client's authenticator.
	Auth Authenticator
}

// Response is a fully read 2xx upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON parses the response body.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Get returns the value at the given gjson path of the response body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decode unmarshals the JSON response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client sends requests to a single provider's API.
type Client struct {
	provider  string
	baseURL   string
	auth      Authenticator
	userAgent string
	maxBody   int64
	http      *http.Client
}

// NewClient creates a client for provider. auth may be nil for APIs which
// need no credentials, or when every request carries its own.
func NewClient(provider, baseURL string, auth Authenticator, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "mcpbridge/" + buildinfo.Version()
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}

	return &Client{
		provider:  provider,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		auth:      auth,
		userAgent: userAgent,
		maxBody:   maxBody,
		http: &http.Client{
			Transport: NewTransport(provider, opts),
			Timeout:   timeout,
		},
	}
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the instrumented HTTP client, for SDKs which issue their
// own requests. Callers should label requests with [WithEndpoint].
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends req and reads the whole response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	u, err := c.url(req)
	if err != nil {
		return nil, err
	}

	body, contentType, err := req.body()
	if err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(WithEndpoint(ctx, endpoint), method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}
	if hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}

	auth := req.Auth
	if auth == nil {
		auth = c.auth
	}
	if auth != nil {
		if err := auth(ctx, hreq); err != nil {
			return nil, fmt.Errorf("%s: %w", c.provider, err)
		}
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w: over %d bytes", method, endpoint, ErrResponseTooLarge, c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       raw,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}, nil
}

func (c *Client) url(req Request) (string, error) {
	base := c.baseURL
	if req.BaseURL != "" {
		base = strings.TrimSuffix(req.BaseURL, "/")
	}
	if base == "" {
		return "", fmt.Errorf("%s: no base URL configured", c.provider)
	}

	raw := base
	if req.Path != "" {
		raw += "/" + strings.TrimPrefix(req.Path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse upstream URL: %w", err)
	}

	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r Request) body() (io.Reader, string, error) {
	switch {
	case r.JSON != nil:
		var raw []byte
		switch v := r.JSON.(type) {
		case []byte:
			raw = v
		case json.RawMessage:
			raw = v
		case string:
			raw = []byte(v)
		default:
			var err error
			raw, err = json.Marshal(v)
			if err != nil {
				return nil, "", fmt.Errorf("marshal request body: %w", err)
			}
		}
		return bytes.NewReader(raw), firstNonEmpty(r.ContentType, "application/json"), nil
	case r.Form != nil:
		return strings.NewReader(r.Form.Encode()), firstNonEmpty(r.ContentType, "application/x-www-form-urlencoded"), nil
	case r.Body != nil:
		return r.Body, r.ContentType, nil
	default:
		return nil, r.ContentType, nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
