package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coder/mcpbridge"
	"github.com/coder/mcpbridge/provider"
)

func newStdioCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve a single provider over stdin and stdout",
		Long:  "Serve a single provider over stdin and stdout. Credentials come from the provider's MCPBRIDGE_* keys or from MCPBRIDGE_AUTH_DATA.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--provider is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Stdout carries the protocol.
			logger := newLogger(cfg, os.Stderr)

			creds, err := mcpbridge.ParseAuthHeader(cfg.AuthData)
			if err != nil {
				return fmt.Errorf("parse MCPBRIDGE_AUTH_DATA: %w", err)
			}

			p, err := provider.New(name, cfg, upstreamOptions(cfg, logger, nil))
			if err != nil {
				return err
			}
			opts, err := bridgeOptions(cfg, logger, nil)
			if err != nil {
				return err
			}

			return mcpbridge.ServeStdio(ctx, p, creds, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&name, "provider", "", "Provider to serve")
	return cmd
}
