package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coder/mcpbridge"
	"github.com/coder/mcpbridge/config"
)

func newServeCmd() *cobra.Command {
	var (
		addr      string
		providers []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve all enabled providers over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if len(providers) > 0 {
				cfg.Enabled = providers
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides MCPBRIDGE_HTTP_ADDR")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "Providers to serve, overrides MCPBRIDGE_PROVIDERS")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, os.Stderr)

	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn(ctx, "flush traces", slog.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := mcpbridge.NewMetrics(reg)

	providers, err := mcpbridge.NewProviders(cfg, upstreamOptions(cfg, logger, metrics))
	if err != nil {
		return err
	}

	opts, err := bridgeOptions(cfg, logger, metrics)
	if err != nil {
		return err
	}
	bridge, err := mcpbridge.NewServerBridge(ctx, providers, opts)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, bridge, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names := make([]string, 0, len(providers))
		for _, p := range providers {
			names = append(names, p.Name())
		}
		logger.Info(gctx, "listening", slog.F("addr", cfg.HTTPAddr), slog.F("providers", names))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(gctx, "shutting down", slog.F("timeout", cfg.ShutdownTimeout))

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// The bridge goes first: it ends SSE streams, which would otherwise
		// hold the HTTP server open.
		var err error
		if berr := bridge.Shutdown(sctx); berr != nil {
			err = multierror.Append(err, fmt.Errorf("shutdown bridge: %w", berr))
		}
		if serr := srv.Shutdown(sctx); serr != nil {
			err = multierror.Append(err, fmt.Errorf("shutdown http server: %w", serr))
		}
		return err
	})

	return g.Wait()
}

func newRouter(cfg config.Config, bridge http.Handler, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle("/*", bridge)

	return r
}
