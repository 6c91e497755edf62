// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sigil-dev/freeroute/internal/client"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one chat completion through the failover client",
		Long: "Send a message to the best available free model, retrying and switching models on failure. " +
			"Reads the message from stdin when none is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd, args)
		},
	}

	f := cmd.Flags()
	f.StringP("system", "s", "", "system prompt")
	f.Float64("temperature", 0, "sampling temperature")
	f.Float64("top-p", 0, "nucleus sampling probability")
	f.Int("max-tokens", 0, "maximum tokens to generate")
	f.StringSlice("stop", nil, "stop sequences")

	return cmd
}

func (a *app) runChat(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return frerr.Errorf(frerr.CodeCLIInputInvalid, "reading message from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return frerr.New(frerr.CodeCLIInputInvalid, "no message given")
	}

	var msgs []upstream.Message
	if system, _ := cmd.Flags().GetString("system"); system != "" {
		msgs = append(msgs, upstream.Message{Role: upstream.RoleSystem, Content: system})
	}
	msgs = append(msgs, upstream.Message{Role: upstream.RoleUser, Content: prompt})

	c, err := WireClient(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return err
	}

	resp, err := c.CreateChatCompletion(cmd.Context(), msgs, callOptions(cmd)...)
	if err != nil {
		return err
	}

	a.logger.Info("chat completion",
		"model", resp.ServedModel(),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
	)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
	return err
}

// callOptions turns the flags the user actually set into call options.
func callOptions(cmd *cobra.Command) []client.CallOption {
	f := cmd.Flags()
	var opts []client.CallOption
	if f.Changed("temperature") {
		v, _ := f.GetFloat64("temperature")
		opts = append(opts, client.WithTemperature(v))
	}
	if f.Changed("top-p") {
		v, _ := f.GetFloat64("top-p")
		opts = append(opts, client.WithTopP(v))
	}
	if f.Changed("max-tokens") {
		v, _ := f.GetInt("max-tokens")
		opts = append(opts, client.WithMaxTokens(v))
	}
	if stop, _ := f.GetStringSlice("stop"); len(stop) > 0 {
		opts = append(opts, client.WithStop(stop...))
	}
	return opts
}
