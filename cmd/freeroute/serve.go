// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenAI-compatible failover proxy",
		Long: "Load the free model pool and serve /v1/chat/completions, relaying each request " +
			"to the healthiest model and failing over on rate limits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd)
		},
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := WireProxy(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	go p.RefreshLoop(ctx)

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Starting freeroute on %s with %d models\n",
		a.cfg.Listen, len(p.Server.Pool())); err != nil {
		return err
	}
	return p.Server.Start(ctx)
}
