// Command mcpbridge serves third-party REST APIs as MCP servers.
// Run with: go run ./cmd/mcpbridge serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"cdr.dev/slog/sloggers/slogjson"
	"github.com/coder/quartz"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	_ "time/tzdata"

	"github.com/coder/mcpbridge"
	"github.com/coder/mcpbridge/buildinfo"
	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

const tracerName = "github.com/coder/mcpbridge"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpbridge",
		Short:         "Serve third-party REST APIs as MCP servers",
		Long:          "mcpbridge exposes REST APIs such as HubSpot, Zoom or Dropbox as MCP tools over streamable HTTP, SSE or stdio.\nIt is configured through MCPBRIDGE_* environment variables.",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newStdioCmd(), newToolsCmd(), newVersionCmd())
	return root
}

// loadConfig reads the environment; flags are applied by the caller.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) slog.Logger {
	var sink slog.Sink
	if cfg.LogFormat == "json" {
		sink = slogjson.Sink(w)
	} else {
		sink = sloghuman.Sink(w)
	}
	return slog.Make(sink).Leveled(parseLevel(cfg.LogLevel))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func upstreamOptions(cfg config.Config, logger slog.Logger, m *mcpbridge.Metrics) upstream.Options {
	return upstream.Options{
		Logger:         logger,
		Metrics:        m,
		Tracer:         otel.Tracer(tracerName),
		Timeout:        cfg.UpstreamTimeout,
		UserAgent:      "mcpbridge/" + buildinfo.Version(),
		DumpDir:        cfg.DumpDir,
		Clock:          quartz.NewReal(),
		CircuitBreaker: cfg.CircuitBreaker.Breaker(),
	}
}

func bridgeOptions(cfg config.Config, logger slog.Logger, m *mcpbridge.Metrics) (mcpbridge.Options, error) {
	allow, deny, err := cfg.ToolFilters()
	if err != nil {
		return mcpbridge.Options{}, err
	}
	return mcpbridge.Options{
		Logger:        logger,
		Metrics:       m,
		Tracer:        otel.Tracer(tracerName),
		AuthHeader:    cfg.AuthHeader,
		BaseURL:       cfg.BaseURL,
		ToolAllowlist: allow,
		ToolDenylist:  deny,
	}, nil
}
