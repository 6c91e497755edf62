// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// parseTrustedProxies parses CIDR strings. Blank entries are skipped; at
// least one valid range is required.
func parseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, frerr.Errorf(frerr.CodeServerConfigInvalid,
				"invalid trusted proxy CIDR %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	if len(nets) == 0 {
		return nil, frerr.New(frerr.CodeServerConfigInvalid,
			"trusted_proxies must contain at least one valid CIDR range")
	}
	return nets, nil
}

func isTrustedProxy(ip net.IP, trusted []*net.IPNet) bool {
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// trustedProxyRealIP rewrites r.RemoteAddr from X-Forwarded-For (leftmost
// entry) or X-Real-IP, but only when the connecting peer is a trusted proxy.
// The per-IP rate limiter keys on the result.
func trustedProxyRealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			connectingIP, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				connectingIP = r.RemoteAddr
			}

			ip := net.ParseIP(connectingIP)
			if ip == nil || !isTrustedProxy(ip, trusted) {
				next.ServeHTTP(w, r)
				return
			}

			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				clientIP, _, _ := strings.Cut(xff, ",")
				clientIP = strings.TrimSpace(clientIP)
				if net.ParseIP(clientIP) != nil {
					r.RemoteAddr = clientIP + ":0"
				} else {
					slog.Warn("invalid IP in X-Forwarded-For, using connecting IP",
						"xff_value", clientIP,
						"connecting_ip", connectingIP)
				}
			} else if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
				if net.ParseIP(xri) != nil {
					r.RemoteAddr = xri + ":0"
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
