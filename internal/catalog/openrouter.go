// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package catalog

import (
	"context"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// DefaultBaseURL is OpenRouter's OpenAI-compatible API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// SourceConfig configures an OpenRouterSource.
type SourceConfig struct {
	APIKey  string // optional; the models endpoint is public
	BaseURL string // optional, useful for testing against a mock server
	Timeout time.Duration
}

// OpenRouterSource lists models from OpenRouter's /models endpoint.
type OpenRouterSource struct {
	client openaisdk.Client
}

// NewOpenRouterSource creates a catalog source backed by the OpenAI SDK's
// generic request path, since OpenRouter's model objects carry fields
// (pricing, context_length, supported_parameters) the SDK's Model type drops.
func NewOpenRouterSource(cfg SourceConfig) *OpenRouterSource {
	base := DefaultBaseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	// The SDK seeds every client from OPENAI_* environment variables. None
	// of them belong on requests to OpenRouter.
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithHeaderDel("OpenAI-Organization"),
		option.WithHeaderDel("OpenAI-Project"),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithHeaderDel("Authorization"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenRouterSource{client: openaisdk.NewClient(opts...)}
}

type modelsPage struct {
	Data []Model `json:"data"`
}

// List fetches the full model catalog.
func (s *OpenRouterSource) List(ctx context.Context) ([]Model, error) {
	var page modelsPage
	if err := s.client.Get(ctx, "models", nil, &page); err != nil {
		return nil, frerr.Wrap(err, frerr.CodeCatalogFetchFailure, "fetching model catalog")
	}
	return page.Data, nil
}

// StaticSource serves a fixed model list. It backs tests and configurations
// that pin the pool instead of querying the catalog.
type StaticSource []Model

func (s StaticSource) List(context.Context) ([]Model, error) {
	return append([]Model(nil), s...), nil
}
