// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package catalog

import (
	"cmp"
	"context"
	"slices"
	"strings"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// Sort keys accepted by Filter.SortBy.
const (
	SortByContextLength = "context_length"
	SortByID            = "id"
	SortByName          = "name"
	SortByCreated       = "created"
)

// Filter narrows and orders a model list. Zero values disable each criterion.
type Filter struct {
	Name               string   `mapstructure:"name"`
	MinContextLength   int      `mapstructure:"min_context_length"`
	Provider           string   `mapstructure:"provider"`
	RequiredParameters []string `mapstructure:"required_parameters"`
	SortBy             string   `mapstructure:"sort_by"`
	Reverse            bool     `mapstructure:"reverse"`
	Limit              int      `mapstructure:"limit"`
	IncludePaid        bool     `mapstructure:"include_paid"`
}

// DefaultFilter returns the filter used when nothing is configured: free
// models, largest context window first.
func DefaultFilter() Filter {
	return Filter{
		SortBy:  SortByContextLength,
		Reverse: true,
	}
}

// Validate checks the sort key and numeric bounds.
func (f Filter) Validate() error {
	switch f.SortBy {
	case "", SortByContextLength, SortByID, SortByName, SortByCreated:
	default:
		return frerr.Errorf(frerr.CodeCatalogSortInvalid,
			"sort_by must be one of [%s, %s, %s, %s], got %q",
			SortByContextLength, SortByID, SortByName, SortByCreated, f.SortBy)
	}
	if f.Limit < 0 {
		return frerr.Errorf(frerr.CodeCatalogSortInvalid, "limit must not be negative, got %d", f.Limit)
	}
	if f.MinContextLength < 0 {
		return frerr.Errorf(frerr.CodeCatalogSortInvalid, "min_context_length must not be negative, got %d", f.MinContextLength)
	}
	return nil
}

// Apply returns the models matching f, ordered and truncated. The input slice
// is not modified. Sorting is stable so equal keys keep catalog order.
func Apply(models []Model, f Filter) ([]Model, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if !f.IncludePaid {
		models = FreeOnly(models)
	}

	name := strings.ToLower(f.Name)
	out := make([]Model, 0, len(models))
	for _, m := range models {
		if name != "" &&
			!strings.Contains(strings.ToLower(m.ID), name) &&
			!strings.Contains(strings.ToLower(m.Name), name) {
			continue
		}
		if f.MinContextLength > 0 && m.ContextLength < f.MinContextLength {
			continue
		}
		if f.Provider != "" && !strings.EqualFold(m.Provider(), f.Provider) {
			continue
		}
		if !supportsAll(m, f.RequiredParameters) {
			continue
		}
		out = append(out, m)
	}

	if f.SortBy != "" {
		slices.SortStableFunc(out, func(a, b Model) int {
			c := compareBy(f.SortBy, a, b)
			if f.Reverse {
				return -c
			}
			return c
		})
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Load lists models from src and applies f. It fails when nothing matches,
// since an empty pool can never serve a request.
func Load(ctx context.Context, src Source, f Filter) ([]Model, error) {
	all, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, frerr.New(frerr.CodeCatalogFetchFailure, "catalog returned no models")
	}

	models, err := Apply(all, f)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, frerr.New(frerr.CodeCatalogFilterEmpty, "no models match the configured filter")
	}
	return models, nil
}

func supportsAll(m Model, params []string) bool {
	for _, p := range params {
		if !m.Supports(p) {
			return false
		}
	}
	return true
}

func compareBy(key string, a, b Model) int {
	switch key {
	case SortByContextLength:
		return cmp.Compare(a.ContextLength, b.ContextLength)
	case SortByID:
		return strings.Compare(a.ID, b.ID)
	case SortByName:
		return strings.Compare(a.Name, b.Name)
	case SortByCreated:
		return cmp.Compare(a.Created, b.Created)
	default:
		return 0
	}
}
