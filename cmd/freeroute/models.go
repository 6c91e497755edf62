// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sigil-dev/freeroute/internal/catalog"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models in the routing pool",
		Long:  "Fetch the OpenRouter catalog and print the models that pass the configured filter, in routing order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runModels(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("format", "f", "table", "output format (table, json, yaml)")
	f.String("name", "", "keep models whose id or name contains this text")
	f.Int("min-context", 0, "minimum context length")
	f.String("provider", "", "keep models from this provider")
	f.Int("limit", 0, "maximum number of models")
	f.Bool("all", false, "include paid models")

	_ = a.v.BindPFlag("catalog.filter.name", f.Lookup("name"))
	_ = a.v.BindPFlag("catalog.filter.min_context_length", f.Lookup("min-context"))
	_ = a.v.BindPFlag("catalog.filter.provider", f.Lookup("provider"))
	_ = a.v.BindPFlag("catalog.filter.limit", f.Lookup("limit"))
	_ = a.v.BindPFlag("catalog.filter.include_paid", f.Lookup("all"))

	return cmd
}

func (a *app) runModels(cmd *cobra.Command) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table", "json", "yaml":
	default:
		return frerr.Errorf(frerr.CodeCLIInputInvalid, "unknown format %q: want table, json or yaml", format)
	}

	models, err := catalog.Load(cmd.Context(), sourceFactory(a.cfg), a.cfg.Catalog.Filter)
	if err != nil {
		return err
	}
	return renderModels(cmd.OutOrStdout(), models, format)
}

func renderModels(w io.Writer, models []catalog.Model, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models)

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(models); err != nil {
			return err
		}
		return enc.Close()

	default:
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(borderStyle).
			Headers("MODEL", "CONTEXT", "PROVIDER", "FREE").
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		for _, m := range models {
			t.Row(m.ID, strconv.Itoa(m.ContextLength), m.Provider(), strconv.FormatBool(m.Free()))
		}
		_, err := fmt.Fprintln(w, t.Render())
		return err
	}
}
