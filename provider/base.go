package provider

import (
	"net/url"
	"strings"

	"github.com/coder/mcpbridge/upstream"
)

type base struct {
	name    string
	baseURL string
	client  *upstream.Client
}

func newBase(name, baseURL, defaultURL string, auth upstream.Authenticator, opts upstream.Options) base {
	baseURL = orDefault(baseURL, defaultURL)
	return base{
		name:    name,
		baseURL: baseURL,
		client:  upstream.NewClient(name, baseURL, auth, opts),
	}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) BaseURL() string {
	return b.baseURL
}

// sameBaseURL compares API roots, ignoring case of scheme and host and a
// trailing slash. An empty root never matches.
func sameBaseURL(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ua, errA := url.Parse(strings.TrimSuffix(a, "/"))
	ub, errB := url.Parse(strings.TrimSuffix(b, "/"))
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		ua.EscapedPath() == ub.EscapedPath()
}
