// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/sigil-dev/freeroute/internal/secrets"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/spf13/cobra"
)

// apiKeySecret is the conventional keyring entry for the OpenRouter key.
const apiKeySecret = "openrouter-api-key"

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: "Store, list and delete secrets kept under the freeroute service in the operating system keyring. " +
			"Config values reference them as keyring://freeroute/<name>.",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from stdin",
		Long:  "Store the first line of stdin under <name>, keeping the value out of shell history.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		Args:  cobra.NoArgs,
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	sc := bufio.NewScanner(cmd.InOrStdin())
	var value string
	if sc.Scan() {
		value = strings.TrimSpace(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return frerr.Errorf(frerr.CodeCLIInputInvalid, "reading secret from stdin: %w", err)
	}
	if value == "" {
		return frerr.Errorf(frerr.CodeCLIInputInvalid, "secret %q: empty value on stdin", name)
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s. Reference it in config as %s\n",
		name, secrets.URI(secrets.DefaultService, name))
	return err
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return frerr.Errorf(frerr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}
	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if frerr.IsNotFound(err) {
			return frerr.Errorf(frerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return frerr.Errorf(frerr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return err
}
