// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package server exposes the failover proxy: an OpenAI-compatible HTTP API
// that forwards chat completions to the healthiest model of the pool.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sigil-dev/freeroute/internal/availability"
	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/failover"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// DefaultMaxAttempts caps the attempts of one proxied request. The effective
// cap is min(MaxAttempts, pool size).
const DefaultMaxAttempts = 3

const shutdownTimeout = 10 * time.Second

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr     string
	CORSOrigins    []string
	TrustedProxies []string // CIDRs allowed to set X-Forwarded-For; empty trusts X-Real-IP/X-Forwarded-For as-is
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxAttempts    int
	MaxBodyBytes   int64
	RateLimit      RateLimitConfig
}

// Forwarder sends one raw chat-completion body upstream.
type Forwarder interface {
	Forward(ctx context.Context, apiKey string, body []byte) (*upstream.Response, error)
}

// Deps are the collaborators the proxy routes through.
type Deps struct {
	Tracker    *availability.Tracker
	Controller *failover.Controller
	Forwarder  Forwarder
	Pool       []catalog.Model
	Logger     *slog.Logger
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config

	tracker    *availability.Tracker
	controller *failover.Controller
	forwarder  Forwarder
	logger     *slog.Logger

	poolMu sync.RWMutex
	pool   []catalog.Model

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, and the proxy routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, frerr.New(frerr.CodeServerConfigInvalid, "listen address is required")
	}
	if deps.Tracker == nil || deps.Controller == nil || deps.Forwarder == nil {
		return nil, frerr.New(frerr.CodeServerConfigInvalid, "tracker, controller and forwarder are required")
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	realIP := middleware.RealIP
	if len(cfg.TrustedProxies) > 0 {
		trusted, err := parseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		realIP = trustedProxyRealIP(trusted)
	}

	srv := &Server{
		cfg:        cfg,
		tracker:    deps.Tracker,
		controller: deps.Controller,
		forwarder:  deps.Forwarder,
		logger:     logger,
		pool:       append([]catalog.Model(nil), deps.Pool...),
		done:       make(chan struct{}),
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(realIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware(cfg.RateLimit, srv.done))
	r.NotFound(handleNotFound)

	// Huma API with OpenAPI spec
	humaConfig := huma.DefaultConfig("freeroute", "0.1.0")
	humaConfig.Info.Description = "OpenAI-compatible failover proxy over free OpenRouter models"
	humaConfig.CreateHooks = nil
	api := humachi.New(r, humaConfig)

	srv.router = r
	srv.api = api

	srv.registerRoutes()
	srv.registerChatRoute()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Pool returns a copy of the model pool requests are routed over.
func (s *Server) Pool() []catalog.Model {
	s.poolMu.RLock()
	defer s.poolMu.RUnlock()
	return append([]catalog.Model(nil), s.pool...)
}

// SetPool replaces the model pool. In-flight requests keep the pool they
// started with.
func (s *Server) SetPool(pool []catalog.Model) {
	s.poolMu.Lock()
	s.pool = append([]catalog.Model(nil), pool...)
	s.poolMu.Unlock()
}

// Close stops background goroutines. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close() //nolint:errcheck // Close never fails

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return frerr.Wrapf(err, frerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("proxy listening", "addr", ln.Addr().String(), "pool_size", len(s.Pool()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return frerr.Wrap(err, frerr.CodeServerStartFailure, "serving")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return frerr.Wrap(err, frerr.CodeServerShutdownFailure, "shutting down")
	}

	if err := <-errCh; err != nil {
		return frerr.Wrap(err, frerr.CodeServerStartFailure, "serving")
	}
	return nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "HTTP-Referer", "X-Title"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}
