// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type ctxKey int

const apiKeyCtxKey ctxKey = iota

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive; the token must be non-empty.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// requireBearer rejects requests without a bearer token with 401. The token
// is the caller's upstream API key and is passed through, never checked.
func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			slog.Debug("rejecting request without bearer token",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "authentication_error",
				"missing or malformed Authorization header, expected \"Bearer <key>\"")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyCtxKey, key)))
	})
}

func apiKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyCtxKey).(string)
	return key
}
