// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigil-dev/freeroute/internal/availability"
	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/client"
	"github.com/sigil-dev/freeroute/internal/config"
	"github.com/sigil-dev/freeroute/internal/failover"
	"github.com/sigil-dev/freeroute/internal/secrets"
	"github.com/sigil-dev/freeroute/internal/server"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// sourceFactory builds the model catalog source. Tests substitute a static
// catalog.
var sourceFactory = func(cfg *config.Config) catalog.Source {
	return catalog.NewOpenRouterSource(catalog.SourceConfig{
		APIKey:  cfg.OpenRouter.APIKey,
		BaseURL: cfg.OpenRouter.BaseURL,
		Timeout: cfg.OpenRouter.Timeout,
	})
}

// Proxy holds the wired serving subsystems.
type Proxy struct {
	Server     *server.Server
	Tracker    *availability.Tracker
	Controller *failover.Controller

	source  catalog.Source
	filter  catalog.Filter
	refresh time.Duration
	logger  *slog.Logger
}

// WireProxy loads the model pool and wires tracker, controller, forwarder
// and HTTP server from cfg.
func WireProxy(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Proxy, error) {
	src := sourceFactory(cfg)

	pool, err := catalog.Load(ctx, src, cfg.Catalog.Filter)
	if err != nil {
		return nil, frerr.Wrap(err, frerr.CodeCLISetupFailure, "loading model pool")
	}

	tracker, err := availability.New(cfg.Failover.ErrorThreshold,
		availability.WithDecayWindow(cfg.Failover.DecayWindow))
	if err != nil {
		return nil, err
	}

	// The proxy tries each model once and never backs off, so
	// failover.max_retries and failover.base_delay only tune the chat client.
	ctrl := failover.New(tracker,
		failover.WithMaxRetries(0),
		failover.WithLogger(logger),
	)

	fwd := upstream.NewForwarder(upstream.ForwarderConfig{
		BaseURL:          cfg.OpenRouter.BaseURL,
		Timeout:          cfg.OpenRouter.Timeout,
		Referer:          cfg.OpenRouter.Referer,
		Title:            cfg.OpenRouter.Title,
		MaxResponseBytes: cfg.Proxy.MaxBodyBytes,
	})

	srv, err := server.New(server.Config{
		ListenAddr:     cfg.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxAttempts:    cfg.Proxy.MaxAttempts,
		MaxBodyBytes:   cfg.Proxy.MaxBodyBytes,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
			MaxVisitors:       cfg.Server.RateLimit.MaxVisitors,
		},
	}, server.Deps{
		Tracker:    tracker,
		Controller: ctrl,
		Forwarder:  fwd,
		Pool:       pool,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Proxy{
		Server:     srv,
		Tracker:    tracker,
		Controller: ctrl,
		source:     src,
		filter:     cfg.Catalog.Filter,
		refresh:    cfg.Catalog.RefreshInterval,
		logger:     logger,
	}, nil
}

// Refresh reloads the pool into the server. On error the current pool is
// kept.
func (p *Proxy) Refresh(ctx context.Context) error {
	pool, err := catalog.Load(ctx, p.source, p.filter)
	if err != nil {
		p.logger.Warn("catalog refresh failed, keeping current pool", "error", err)
		return err
	}
	p.Server.SetPool(pool)
	p.logger.Info("model pool refreshed", "pool_size", len(pool))
	return nil
}

// RefreshLoop calls Refresh every refresh interval until ctx is done. It
// returns immediately when refreshing is disabled.
func (p *Proxy) RefreshLoop(ctx context.Context) {
	if p.refresh <= 0 {
		return
	}
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Refresh(ctx)
		}
	}
}

// WireClient creates the failover client used by the chat command.
func WireClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	if cfg.OpenRouter.APIKey == "" {
		return nil, frerr.Errorf(frerr.CodeCLIInputInvalid,
			"openrouter.api_key is not set: store it with `freeroute secret set %s` and reference it as %q",
			apiKeySecret, secrets.URI(secrets.DefaultService, apiKeySecret))
	}

	return client.New(ctx, client.Config{
		APIKey:     cfg.OpenRouter.APIKey,
		BaseURL:    cfg.OpenRouter.BaseURL,
		Filter:     cfg.Catalog.Filter,
		MaxRetries: cfg.Failover.MaxRetries,
		BaseDelay:  cfg.Failover.BaseDelay,
		Timeout:    cfg.OpenRouter.Timeout,
	},
		client.WithSource(sourceFactory(cfg)),
		client.WithLogger(logger),
	)
}
