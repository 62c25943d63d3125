// Package config holds bridge and per-provider configuration.
// Configuration is loaded from MCPBRIDGE_* environment variables.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/coder/mcpbridge/circuitbreaker"
)

const (
	ProviderAirtable   = "airtable"
	ProviderDropbox    = "dropbox"
	ProviderFreshdesk  = "freshdesk"
	ProviderGoogleMaps = "googlemaps"
	ProviderHubSpot    = "hubspot"
	ProviderMindsDB    = "mindsdb"
	ProviderMiro       = "miro"
	ProviderMixpanel   = "mixpanel"
	ProviderOutlook    = "outlook"
	ProviderPDFco      = "pdfco"
	ProviderPerplexity = "perplexity"
	ProviderReddit     = "reddit"
	ProviderWordPress  = "wordpress"
	ProviderZoom       = "zoom"
)

// Providers lists every built-in REST adapter in a stable order.
var Providers = []string{
	ProviderAirtable,
	ProviderDropbox,
	ProviderFreshdesk,
	ProviderGoogleMaps,
	ProviderHubSpot,
	ProviderMindsDB,
	ProviderMiro,
	ProviderMixpanel,
	ProviderOutlook,
	ProviderPDFco,
	ProviderPerplexity,
	ProviderReddit,
	ProviderWordPress,
	ProviderZoom,
}

// Config is the top-level bridge configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"localhost:5000"`
	// BaseURL is the externally visible URL of the bridge, used to build the
	// message endpoint announced on legacy SSE connections. Relative endpoints
	// are announced when empty.
	BaseURL string `env:"BASE_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"human"`

	// Enabled lists the providers to serve; empty means all of them.
	Enabled []string `env:"PROVIDERS" envSeparator:","`

	// AuthHeader names the inbound header carrying a raw token or a base64 JSON auth blob.
	AuthHeader string `env:"AUTH_HEADER" envDefault:"X-Auth-Data"`
	// AuthData is an auth blob used for stdio sessions, parsed like AuthHeader.
	AuthData string `env:"AUTH_DATA"`

	ToolAllowlist string `env:"TOOL_ALLOWLIST"`
	ToolDenylist  string `env:"TOOL_DENYLIST"`

	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	// DumpDir enables request/response dumps of upstream traffic when set.
	DumpDir string `env:"DUMP_DIR"`

	CircuitBreaker CircuitBreaker `envPrefix:"CIRCUIT_BREAKER_"`

	// OTLPEndpoint enables exporting traces over OTLP/HTTP when set.
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// RemoteServers maps a name to the streamable HTTP URL of an MCP server
	// whose tools are re-exported, e.g. "deepwiki=https://mcp.deepwiki.com/mcp".
	RemoteServers map[string]string `env:"REMOTE_SERVERS" envSeparator:"," envKeyValSeparator:"="`
	// RemoteServerTokens maps a remote server name to a bearer token sent
	// with every request to it, e.g. "deepwiki=dw-token".
	RemoteServerTokens map[string]string `env:"REMOTE_SERVER_TOKENS" envSeparator:"," envKeyValSeparator:"="`

	Airtable   Airtable   `envPrefix:"AIRTABLE_"`
	Dropbox    Dropbox    `envPrefix:"DROPBOX_"`
	Freshdesk  Freshdesk  `envPrefix:"FRESHDESK_"`
	GoogleMaps GoogleMaps `envPrefix:"GOOGLE_MAPS_"`
	HubSpot    HubSpot    `envPrefix:"HUBSPOT_"`
	MindsDB    MindsDB    `envPrefix:"MINDSDB_"`
	Miro       Miro       `envPrefix:"MIRO_"`
	Mixpanel   Mixpanel   `envPrefix:"MIXPANEL_"`
	Outlook    Outlook    `envPrefix:"OUTLOOK_"`
	PDFco      PDFco      `envPrefix:"PDFCO_"`
	Perplexity Perplexity `envPrefix:"PERPLEXITY_"`
	Reddit     Reddit     `envPrefix:"REDDIT_"`
	WordPress  WordPress  `envPrefix:"WORDPRESS_"`
	Zoom       Zoom       `envPrefix:"ZOOM_"`
}

type CircuitBreaker struct {
	Enabled          bool          `env:"ENABLED" envDefault:"true"`
	FailureThreshold uint32        `env:"FAILURE_THRESHOLD" envDefault:"5"`
	Interval         time.Duration `env:"INTERVAL" envDefault:"10s"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxRequests      uint32        `env:"MAX_REQUESTS" envDefault:"3"`
}

// Breaker converts the settings into a [circuitbreaker.Config], or nil when disabled.
func (c CircuitBreaker) Breaker() *circuitbreaker.Config {
	if !c.Enabled {
		return nil
	}
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = c.FailureThreshold
	cfg.Interval = c.Interval
	cfg.Timeout = c.Timeout
	cfg.MaxRequests = c.MaxRequests
	return &cfg
}

type Airtable struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"API_KEY"`
}

type Dropbox struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"ACCESS_TOKEN"`
}

type Freshdesk struct {
	// BaseURL overrides the https://<domain>.freshdesk.com/api/v2 URL, mainly for tests.
	BaseURL string `env:"BASE_URL"`
	Domain  string `env:"DOMAIN"`
	Key     string `env:"API_KEY"`
}

type GoogleMaps struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"API_KEY"`
}

type HubSpot struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"ACCESS_TOKEN"`
}

type MindsDB struct {
	BaseURL string `env:"BASE_URL"`
	// Key is optional; self-hosted instances usually run without auth.
	Key string `env:"TOKEN"`
}

type Miro struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"ACCESS_TOKEN"`
}

type Mixpanel struct {
	IngestionURL string `env:"INGESTION_URL"`
	QueryURL     string `env:"QUERY_URL"`
	ProjectToken string `env:"PROJECT_TOKEN"`
	ProjectID    string `env:"PROJECT_ID"`
	// Service account credentials for the query API.
	ServiceAccount string `env:"SERVICE_ACCOUNT_USERNAME"`
	Secret         string `env:"SERVICE_ACCOUNT_SECRET"`
}

type Outlook struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"ACCESS_TOKEN"`
	// App-only credentials, used when no delegated token is supplied.
	TenantID     string `env:"TENANT_ID"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	TokenURL     string `env:"TOKEN_URL"`
	// UserID is the mailbox used with app-only credentials, where "me" is meaningless.
	UserID string `env:"USER_ID"`
}

type PDFco struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"API_KEY"`
}

type Perplexity struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"API_KEY"`
}

type Reddit struct {
	BaseURL   string `env:"BASE_URL"`
	Key       string `env:"ACCESS_TOKEN"`
	UserAgent string `env:"USER_AGENT" envDefault:"mcpbridge/1.0"`
}

type WordPress struct {
	SiteURL  string `env:"SITE_URL"`
	Username string `env:"USERNAME"`
	// Key is an application password.
	Key string `env:"APP_PASSWORD"`
}

type Zoom struct {
	BaseURL string `env:"BASE_URL"`
	Key     string `env:"ACCESS_TOKEN"`
	// Server-to-server OAuth credentials, used when no token is supplied.
	AccountID    string `env:"ACCOUNT_ID"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	TokenURL     string `env:"TOKEN_URL"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	return LoadFromEnvironment(nil)
}

// LoadFromEnvironment parses environ (KEY -> value) into a Config. A nil map
// reads the process environment.
func LoadFromEnvironment(environ map[string]string) (Config, error) {
	opts := env.Options{Prefix: "MCPBRIDGE_"}
	if environ != nil {
		opts.Environment = environ
	}

	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	known := make(map[string]struct{}, len(Providers))
	for _, p := range Providers {
		known[p] = struct{}{}
	}
	for _, p := range c.Enabled {
		if _, ok := known[p]; !ok {
			return fmt.Errorf("unknown provider %q in MCPBRIDGE_PROVIDERS", p)
		}
	}
	if _, _, err := c.ToolFilters(); err != nil {
		return err
	}
	for name := range c.RemoteServerTokens {
		if _, ok := c.RemoteServers[name]; !ok {
			return fmt.Errorf("token for unknown remote server %q in MCPBRIDGE_REMOTE_SERVER_TOKENS", name)
		}
	}
	switch c.LogFormat {
	case "human", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be 'human' or 'json'", c.LogFormat)
	}
	return nil
}

// EnabledProviders returns the providers to serve.
func (c Config) EnabledProviders() []string {
	if len(c.Enabled) == 0 {
		return Providers
	}
	out := make([]string, 0, len(c.Enabled))
	for _, p := range c.Enabled {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ToolFilters compiles the tool allow and deny lists. Unset lists are nil.
func (c Config) ToolFilters() (allow, deny *regexp.Regexp, err error) {
	if c.ToolAllowlist != "" {
		allow, err = regexp.Compile(c.ToolAllowlist)
		if err != nil {
			return nil, nil, fmt.Errorf("compile tool allowlist: %w", err)
		}
	}
	if c.ToolDenylist != "" {
		deny, err = regexp.Compile(c.ToolDenylist)
		if err != nil {
			return nil, nil, fmt.Errorf("compile tool denylist: %w", err)
		}
	}
	return allow, deny, nil
}
