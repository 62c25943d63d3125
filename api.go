package mcpbridge

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coder/mcpbridge/config"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/metrics"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/upstream"
)

// Type + function aliases for convenience.
type (
	Metrics = metrics.Metrics

	Provider    = provider.Provider
	Initializer = provider.Initializer

	Credentials = mcpcontext.Credentials
	Config      = config.Config
)

func AsCredentials(ctx context.Context, creds *Credentials) context.Context {
	return mcpcontext.AsCredentials(ctx, creds)
}

func NewMetrics(reg prometheus.Registerer) *metrics.Metrics {
	return metrics.NewMetrics(reg)
}

// NewProviders builds every provider enabled in cfg.
func NewProviders(cfg config.Config, opts upstream.Options) ([]Provider, error) {
	return provider.NewEnabled(cfg, opts)
}
