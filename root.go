// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-core-stack/mcp-stdio-bridge/pkg/auth"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/bridge"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/config"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/forwarder"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/logx"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/metrics"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcp-stdio-bridge",
		Short:         "Bridge newline-delimited JSON-RPC on stdio to a remote MCP server over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := config.RegisterFlags(root.Flags())

	root.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(flags.ConfigFile())
		if err != nil {
			return err
		}
		flags.Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the bridge version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

// run wires the bridge for cfg and blocks until stdin closes or ctx is
// cancelled. stdout receives JSON-RPC lines only.
func run(ctx context.Context, cfg config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	logger, err := logx.Configure(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recorder := metrics.New()
	if cfg.MetricsAddr != "" {
		addr, err := metrics.Serve(ctx, cfg.MetricsAddr, recorder)
		if err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
		logger.Info().Str("addr", addr).Msg("metrics listener started")
	}

	authenticator, err := auth.FromCredentials(auth.Credentials{
		BearerToken: cfg.BearerToken,
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
	})
	if err != nil {
		return fmt.Errorf("configure upstream credentials: %w", err)
	}

	opts := []forwarder.Option{
		forwarder.WithTimeout(cfg.RequestTimeout),
		forwarder.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
		forwarder.WithMetrics(recorder),
	}
	if authenticator != nil {
		opts = append(opts, forwarder.WithAuthenticator(authenticator))
	}

	fwd, err := forwarder.New(cfg.ServerURL, opts...)
	if err != nil {
		return err
	}

	logger.Info().Str("version", version).Msg("Starting proxy...")
	logger.Info().Str("endpoint", fwd.Endpoint()).Msg("Connecting to: " + fwd.Endpoint())

	b := bridge.New(fwd, stdout,
		bridge.WithMetrics(recorder),
		bridge.WithDrainTimeout(cfg.DrainTimeout),
		bridge.WithMaxInFlight(cfg.MaxInFlight),
		bridge.WithMaxLineSize(cfg.MaxLineSize),
	)
	return b.Run(ctx, stdin)
}
