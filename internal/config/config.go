// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/secrets"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FREEROUTE_LISTEN.
const EnvPrefix = "FREEROUTE"

// Config is the top-level freeroute configuration.
type Config struct {
	Listen     string           `mapstructure:"listen"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Failover   FailoverConfig   `mapstructure:"failover"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// OpenRouterConfig holds the upstream endpoint and credentials. APIKey may
// be a keyring://service/key reference.
type OpenRouterConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Referer string        `mapstructure:"referer"`
	Title   string        `mapstructure:"title"`
}

// CatalogConfig selects the model pool.
type CatalogConfig struct {
	Filter catalog.Filter `mapstructure:"filter"`
	// RefreshInterval reloads the pool while serving. Zero disables it.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// FailoverConfig tunes model health tracking and retries. ErrorThreshold
// and DecayWindow drive the proxy's tracker. MaxRetries and BaseDelay apply
// to the chat client only, which also uses MaxRetries as its threshold; the
// proxy tries each model once without backoff.
type FailoverConfig struct {
	ErrorThreshold uint64        `mapstructure:"error_threshold"`
	DecayWindow    time.Duration `mapstructure:"decay_window"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
}

// ProxyConfig controls the chat-completions relay.
type ProxyConfig struct {
	MaxAttempts  int   `mapstructure:"max_attempts"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	CORSOrigins    []string        `mapstructure:"cors_origins"`
	TrustedProxies []string        `mapstructure:"trusted_proxies"`
	ReadTimeout    time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration   `mapstructure:"write_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits inbound requests per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxVisitors       int     `mapstructure:"max_visitors"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8000")

	v.SetDefault("openrouter.base_url", catalog.DefaultBaseURL)
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.timeout", "60s")
	v.SetDefault("openrouter.referer", "https://github.com/sigil-dev/freeroute")
	v.SetDefault("openrouter.title", "freeroute")

	v.SetDefault("catalog.filter.name", "")
	v.SetDefault("catalog.filter.min_context_length", 0)
	v.SetDefault("catalog.filter.provider", "")
	v.SetDefault("catalog.filter.required_parameters", []string{})
	v.SetDefault("catalog.filter.sort_by", catalog.SortByContextLength)
	v.SetDefault("catalog.filter.reverse", true)
	v.SetDefault("catalog.filter.limit", 0)
	v.SetDefault("catalog.filter.include_paid", false)
	v.SetDefault("catalog.refresh_interval", "0s")

	v.SetDefault("failover.error_threshold", 3)
	v.SetDefault("failover.decay_window", "300s")
	v.SetDefault("failover.max_retries", 3)
	v.SetDefault("failover.base_delay", "1s")

	v.SetDefault("proxy.max_attempts", 3)
	v.SetDefault("proxy.max_body_bytes", 10<<20)

	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.rate_limit.requests_per_second", 0)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("server.rate_limit.max_visitors", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// SetupEnv maps FREEROUTE_* variables onto config keys, dots becoming
// underscores.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path (optional) with FREEROUTE_ environment
// overrides. When store is non-nil, keyring:// values are resolved through
// it before validation.
func Load(path string, store secrets.Store) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, frerr.Errorf(frerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v, store)
}

// FromViper decodes and validates an already populated viper instance.
func FromViper(v *viper.Viper, store secrets.Store) (*Config, error) {
	if store != nil {
		if err := secrets.ResolveViper(v, store); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, frerr.Errorf(frerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, frerr.Errorf(frerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateListen()...)
	errs = append(errs, c.validateOpenRouter()...)
	errs = append(errs, c.validateCatalog()...)
	errs = append(errs, c.validateFailover()...)
	errs = append(errs, c.validateProxy()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLog()...)

	return errs
}

func (c *Config) validateListen() []error {
	if c.Listen == "" {
		return []error{invalid("listen must not be empty")}
	}
	_, portStr, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return []error{invalid("listen must be a valid host:port address, got %q: %w", c.Listen, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return []error{invalid("listen port must be a number, got %q", portStr)}
	}
	// Port 0 asks the OS for a free port.
	if port < 0 || port > 65535 {
		return []error{invalid("listen port must be between 0 and 65535, got %d", port)}
	}
	return nil
}

func (c *Config) validateOpenRouter() []error {
	var errs []error

	u, err := url.Parse(c.OpenRouter.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, invalid("openrouter.base_url must be an http(s) URL, got %q", c.OpenRouter.BaseURL))
	}
	if secrets.IsKeyringURI(c.OpenRouter.APIKey) {
		errs = append(errs, invalid("openrouter.api_key references an unresolved secret %q", c.OpenRouter.APIKey))
	}
	if c.OpenRouter.Timeout < 0 {
		errs = append(errs, invalid("openrouter.timeout must not be negative, got %s", c.OpenRouter.Timeout))
	}

	return errs
}

func (c *Config) validateCatalog() []error {
	var errs []error

	if err := c.Catalog.Filter.Validate(); err != nil {
		errs = append(errs, invalid("catalog.filter: %w", err))
	}
	if c.Catalog.RefreshInterval < 0 {
		errs = append(errs, invalid("catalog.refresh_interval must not be negative, got %s", c.Catalog.RefreshInterval))
	}

	return errs
}

func (c *Config) validateFailover() []error {
	var errs []error

	if c.Failover.ErrorThreshold == 0 {
		errs = append(errs, invalid("failover.error_threshold must be greater than 0"))
	}
	if c.Failover.DecayWindow <= 0 {
		errs = append(errs, invalid("failover.decay_window must be greater than 0, got %s", c.Failover.DecayWindow))
	}
	if c.Failover.MaxRetries < 0 {
		errs = append(errs, invalid("failover.max_retries must not be negative, got %d", c.Failover.MaxRetries))
	}
	if c.Failover.BaseDelay <= 0 {
		errs = append(errs, invalid("failover.base_delay must be greater than 0, got %s", c.Failover.BaseDelay))
	}

	return errs
}

func (c *Config) validateProxy() []error {
	var errs []error

	if c.Proxy.MaxAttempts <= 0 {
		errs = append(errs, invalid("proxy.max_attempts must be greater than 0, got %d", c.Proxy.MaxAttempts))
	}
	if c.Proxy.MaxBodyBytes <= 0 {
		errs = append(errs, invalid("proxy.max_body_bytes must be greater than 0, got %d", c.Proxy.MaxBodyBytes))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	for i, cidr := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, invalid("server.trusted_proxies[%d] must be a CIDR, got %q", i, cidr))
		}
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, invalid("server timeouts must not be negative"))
	}

	rl := c.Server.RateLimit
	if rl.RequestsPerSecond < 0 {
		errs = append(errs, invalid("server.rate_limit.requests_per_second must not be negative, got %g", rl.RequestsPerSecond))
	}
	if rl.RequestsPerSecond > 0 && rl.Burst <= 0 {
		errs = append(errs, invalid("server.rate_limit.burst must be greater than 0 when rate limiting is enabled, got %d", rl.Burst))
	}
	if rl.MaxVisitors < 0 {
		errs = append(errs, invalid("server.rate_limit.max_visitors must not be negative, got %d", rl.MaxVisitors))
	}

	return errs
}

func (c *Config) validateLog() []error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, invalid("log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}

func invalid(format string, args ...any) error {
	return frerr.Errorf(frerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}
