// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package catalog

import (
	"context"
	"slices"
	"strconv"
	"strings"
)

// Model describes one routable model as published by the upstream catalog.
// Values are immutable once loaded; routing code only reads ID.
type Model struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Created             int64    `json:"created" yaml:"created"`
	ContextLength       int      `json:"context_length" yaml:"context_length"`
	Pricing             Pricing  `json:"pricing" yaml:"pricing"`
	SupportedParameters []string `json:"supported_parameters" yaml:"supported_parameters,omitempty"`
}

// Pricing holds per-token prices as the decimal strings OpenRouter returns.
type Pricing struct {
	Prompt     string `json:"prompt" yaml:"prompt"`
	Completion string `json:"completion" yaml:"completion"`
}

// Source lists the models available upstream.
type Source interface {
	List(ctx context.Context) ([]Model, error)
}

// Provider returns the organisation prefix of the model id
// ("meta-llama" for "meta-llama/llama-3.3-70b-instruct:free").
func (m Model) Provider() string {
	provider, _, ok := strings.Cut(m.ID, "/")
	if !ok {
		return ""
	}
	return provider
}

// Free reports whether both prompt and completion tokens cost nothing, or
// the id carries OpenRouter's ":free" variant suffix.
func (m Model) Free() bool {
	if strings.HasSuffix(m.ID, ":free") {
		return true
	}
	return zeroPrice(m.Pricing.Prompt) && zeroPrice(m.Pricing.Completion)
}

// Supports reports whether the model accepts the named request parameter.
func (m Model) Supports(param string) bool {
	return slices.Contains(m.SupportedParameters, param)
}

func zeroPrice(s string) bool {
	if s == "" {
		return false
	}
	v, err := strconv.ParseFloat(s, 64)
	return err == nil && v == 0
}

// FreeOnly returns the free models of models, in order.
func FreeOnly(models []Model) []Model {
	out := make([]Model, 0, len(models))
	for _, m := range models {
		if m.Free() {
			out = append(out, m)
		}
	}
	return out
}

// IDs returns the ids of models in order.
func IDs(models []Model) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}
