package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

// ErrUnknownProvider is returned by [New] for names it does not know.
var ErrUnknownProvider = errors.New("unknown provider")

// ProviderRemote re-exports the tools of configured remote MCP servers.
const ProviderRemote = "remote"

// Provider describes an adapter which exposes one third-party API as MCP tools.
type Provider interface {
	// Name returns the provider's name. Tool names are prefixed with it and the
	// bridge serves the provider under /<name>/.
	Name() string
	// BaseURL is the default base URL of the provider's API.
	BaseURL() string
	// Instructions are sent to MCP clients on initialization.
	Instructions() string
	// Tools returns the provider's tools along with their handlers.
	Tools() []server.ServerTool
}

// Initializer is implemented by providers which need to set up or tear down
// connections outside of tool calls.
type Initializer interface {
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// New builds the named provider.
func New(name string, cfg config.Config, opts upstream.Options) (Provider, error) {
	switch name {
	case config.ProviderAirtable:
		return NewAirtable(cfg.Airtable, opts), nil
	case config.ProviderDropbox:
		return NewDropbox(cfg.Dropbox, opts), nil
	case config.ProviderFreshdesk:
		return NewFreshdesk(cfg.Freshdesk, opts), nil
	case config.ProviderGoogleMaps:
		return NewGoogleMaps(cfg.GoogleMaps, opts), nil
	case config.ProviderHubSpot:
		return NewHubSpot(cfg.HubSpot, opts), nil
	case config.ProviderMindsDB:
		return NewMindsDB(cfg.MindsDB, opts), nil
	case config.ProviderMiro:
		return NewMiro(cfg.Miro, opts), nil
	case config.ProviderMixpanel:
		return NewMixpanel(cfg.Mixpanel, opts), nil
	case config.ProviderOutlook:
		return NewOutlook(cfg.Outlook, opts), nil
	case config.ProviderPDFco:
		return NewPDFco(cfg.PDFco, opts), nil
	case config.ProviderPerplexity:
		return NewPerplexity(cfg.Perplexity, opts), nil
	case config.ProviderReddit:
		return NewReddit(cfg.Reddit, opts), nil
	case config.ProviderWordPress:
		return NewWordPress(cfg.WordPress, opts), nil
	case config.ProviderZoom:
		return NewZoom(cfg.Zoom, opts), nil
	case ProviderRemote:
		allow, deny, err := cfg.ToolFilters()
		if err != nil {
			return nil, err
		}
		remote, err := NewRemote(cfg.RemoteServers, cfg.RemoteServerTokens, allow, deny, opts)
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// NewEnabled builds every provider enabled in cfg, plus the remote provider
// when remote servers are configured.
func NewEnabled(cfg config.Config, opts upstream.Options) ([]Provider, error) {
	names := cfg.EnabledProviders()
	if len(cfg.RemoteServers) > 0 {
		names = append(names, ProviderRemote)
	}

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := New(name, cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("create provider %q: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func toolName(provider, tool string) string {
	return provider + "_" + tool
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
