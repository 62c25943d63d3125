package provider

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/coder/mcpbridge/upstream"
)

// clientCredentials returns a caching token source for cfg. Token requests
// share the provider's base transport and timeout but are not instrumented
// as API calls.
func clientCredentials(cfg *clientcredentials.Config, opts upstream.Options) oauth2.TokenSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = upstream.DefaultTimeout
	}
	hc := &http.Client{Transport: opts.Transport, Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
	return cfg.TokenSource(ctx)
}
