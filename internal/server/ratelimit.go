// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

const (
	defaultMaxVisitors = 10000
	visitorTTL         = 10 * time.Minute
	cleanupInterval    = 5 * time.Minute
)

// RateLimitConfig configures per-IP inbound rate limiting. It protects the
// shared upstream quota from a single noisy caller.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxVisitors caps tracked IPs; the least recently seen are evicted first.
	MaxVisitors int
}

// Validate checks the config and applies the MaxVisitors default.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return frerr.Errorf(frerr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return frerr.Errorf(frerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return frerr.Errorf(frerr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = defaultMaxVisitors
	}
	return nil
}

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// ipLimiter is a token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64
	burst    float64
	max      int
	now      func() time.Time
}

func newIPLimiter(cfg RateLimitConfig) *ipLimiter {
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		rate:     cfg.RequestsPerSecond,
		burst:    float64(cfg.Burst),
		max:      cfg.MaxVisitors,
		now:      time.Now,
	}
}

// allow takes one token from ip's bucket.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{tokens: l.burst, lastSeen: now}
		l.visitors[ip] = v
	}
	v.tokens = min(v.tokens+now.Sub(v.lastSeen).Seconds()*l.rate, l.burst)
	v.lastSeen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// cleanup drops idle visitors, then evicts the oldest beyond the cap.
func (l *ipLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	type entry struct {
		ip       string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.visitors))
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, ip)
			continue
		}
		entries = append(entries, entry{ip: ip, lastSeen: v.lastSeen})
	}

	if l.max > 0 && len(entries) > l.max {
		slices.SortFunc(entries, func(a, b entry) int { return a.lastSeen.Compare(b.lastSeen) })
		toEvict := len(entries) - l.max
		for _, e := range entries[:toEvict] {
			delete(l.visitors, e.ip)
		}
		slog.Warn("rate limiter visitor map cap enforced",
			"evicted", toEvict, "max_visitors", l.max, "remaining", len(l.visitors))
	}
}

// rateLimitMiddleware enforces cfg per client IP. It is a pass-through when
// cfg.RequestsPerSecond is zero. Closing done stops the cleanup goroutine.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	l := newIPLimiter(cfg)
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Key by IP, not by connection.
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !l.allow(ip) {
				slog.Warn("inbound rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
