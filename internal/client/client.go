// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package client is the library binding: a chat client that hides model
// choice behind failover routing over a pool of free OpenRouter models.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sigil-dev/freeroute/internal/availability"
	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/failover"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/sigil-dev/freeroute/pkg/health"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string // optional, defaults to OpenRouter
	Filter  catalog.Filter
	// MaxRetries is the number of retries per model. It doubles as the
	// error threshold that ejects a model (at least 1).
	MaxRetries int
	BaseDelay  time.Duration // zero means failover.DefaultBaseDelay
	Timeout    time.Duration // per upstream request
}

// Completer performs one chat completion against a named model.
type Completer interface {
	Complete(ctx context.Context, model string, msgs []upstream.Message, opts upstream.CallOptions) (*upstream.Completion, error)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	source    catalog.Source
	completer Completer
	logger    *slog.Logger
	failover  []failover.Option
}

// WithSource replaces the OpenRouter catalog.
func WithSource(src catalog.Source) Option {
	return func(o *options) { o.source = src }
}

// WithCompleter replaces the OpenAI SDK chat client.
func WithCompleter(c Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithLogger sets the logger for the client and its failover controller.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFailoverOptions appends controller options, applied after the ones
// derived from Config.
func WithFailoverOptions(opts ...failover.Option) Option {
	return func(o *options) { o.failover = append(o.failover, opts...) }
}

// Client is safe for concurrent use.
type Client struct {
	mu     sync.RWMutex
	pool   []catalog.Model
	source catalog.Source
	filter catalog.Filter

	completer  Completer
	tracker    *availability.Tracker
	controller *failover.Controller
	logger     *slog.Logger
}

// New loads the model pool and prepares the failover controller. It fails
// when the catalog yields no model matching cfg.Filter.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxRetries < 0 {
		return nil, frerr.Errorf(frerr.CodeConfigValidateInvalidValue,
			"max retries must not be negative, got %d", cfg.MaxRetries)
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, err
	}

	if o.source == nil {
		o.source = catalog.NewOpenRouterSource(catalog.SourceConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	}
	if o.completer == nil {
		chat, err := upstream.NewChatClient(upstream.ChatConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		o.completer = chat
	}

	tracker, err := availability.New(uint64(max(cfg.MaxRetries, 1)))
	if err != nil {
		return nil, err
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = failover.DefaultBaseDelay
	}
	ctrlOpts := append([]failover.Option{
		failover.WithMaxRetries(cfg.MaxRetries),
		failover.WithBaseDelay(baseDelay),
		failover.WithLogger(o.logger),
	}, o.failover...)

	c := &Client{
		source:     o.source,
		filter:     cfg.Filter,
		completer:  o.completer,
		tracker:    tracker,
		controller: failover.New(tracker, ctrlOpts...),
		logger:     o.logger,
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}

	if best, ok := tracker.SelectBest(c.Pool()); ok {
		c.logger.Info("client ready", "model", best.ID, "pool_size", len(c.Pool()))
	}
	return c, nil
}

// Refresh reloads the pool from the catalog. On error the current pool is
// kept.
func (c *Client) Refresh(ctx context.Context) error {
	pool, err := catalog.Load(ctx, c.source, c.filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pool = pool
	c.mu.Unlock()

	c.logger.Debug("model pool loaded", "pool_size", len(pool), "models", catalog.IDs(pool))
	return nil
}

// Pool returns a copy of the current model pool.
func (c *Client) Pool() []catalog.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]catalog.Model(nil), c.pool...)
}

// Stats returns the tracker snapshot.
func (c *Client) Stats() []health.Metrics {
	return c.tracker.Snapshot()
}

// CallOption sets an optional sampling parameter.
type CallOption func(*upstream.CallOptions)

func WithTemperature(v float64) CallOption {
	return func(o *upstream.CallOptions) { o.Temperature = &v }
}

func WithTopP(v float64) CallOption {
	return func(o *upstream.CallOptions) { o.TopP = &v }
}

func WithMaxTokens(n int) CallOption {
	return func(o *upstream.CallOptions) { o.MaxTokens = n }
}

func WithStop(seq ...string) CallOption {
	return func(o *upstream.CallOptions) { o.Stop = seq }
}

// CreateChatCompletion sends msgs to the best available model, failing over
// across the pool. The model is always chosen by the client.
func (c *Client) CreateChatCompletion(ctx context.Context, msgs []upstream.Message, opts ...CallOption) (*upstream.Completion, error) {
	var callOpts upstream.CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	return failover.Execute(ctx, c.controller, c.Pool(),
		func(ctx context.Context, m catalog.Model) (*upstream.Completion, error) {
			resp, err := c.completer.Complete(ctx, m.ID, msgs, callOpts)
			if frerr.HasCode(err, frerr.CodeUpstreamRequestInvalid) {
				return nil, failover.Permanent(err)
			}
			return resp, err
		})
}
