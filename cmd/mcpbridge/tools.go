package main

import (
	"fmt"
	"text/tabwriter"

	"cdr.dev/slog"
	"github.com/spf13/cobra"

	"github.com/coder/mcpbridge"
	"github.com/coder/mcpbridge/buildinfo"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/upstream"
)

func newToolsCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools of the enabled providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			opts := upstream.Options{Logger: slog.Make()}
			var providers []mcpbridge.Provider
			if name != "" {
				p, err := provider.New(name, cfg, opts)
				if err != nil {
					return err
				}
				providers = append(providers, p)
			} else {
				// Remote servers would have to be contacted to list their tools.
				cfg.RemoteServers = nil
				providers, err = mcpbridge.NewProviders(cfg, opts)
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range providers {
				for _, t := range p.Tools() {
					_, _ = fmt.Fprintf(w, "%s\t%s\n", t.Tool.Name, t.Tool.Description)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&name, "provider", "", "Only list this provider's tools")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Version())
		},
	}
}
