// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/sigil-dev/freeroute/internal/server"
	"github.com/sigil-dev/freeroute/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat_ForwardsToBestModel(t *testing.T) {
	f := newProxy(t, pool("a/one:free", "b/two:free"))

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer sk-or-caller", chatBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, []string{"a/one:free"}, f.upstream.Models(), "requested model is replaced by the selected one")
	assert.Equal(t, "Bearer sk-or-caller", f.upstream.Auth()[0], "caller key is forwarded")
	assert.Equal(t, "a/one:free", w.Header().Get("X-Upstream-Model"), "upstream headers are relayed")
	assert.Equal(t, strconv.Itoa(w.Body.Len()), w.Header().Get("Content-Length"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.upstream.Bodies()[0], &sent))
	assert.Equal(t, 0.7, sent["temperature"])
	assert.Equal(t, map[string]any{"keep": true}, sent["x_vendor"], "unknown fields survive the rewrite")

	r, ok := f.tracker.Record("a/one:free")
	require.True(t, ok)
	assert.Equal(t, uint64(1), r.Successes)
}

func TestChat_FailsOverOnRateLimit(t *testing.T) {
	f := newProxy(t, pool("a", "b"))
	f.upstream.respond("a", respondWith(http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`))

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b"}, f.upstream.Models())

	ra, _ := f.tracker.Record("a")
	assert.Equal(t, uint64(1), ra.Errors)
	rb, _ := f.tracker.Record("b")
	assert.Equal(t, uint64(1), rb.Successes)
}

func TestChat_FailsOverOnRateLimitBody(t *testing.T) {
	f := newProxy(t, pool("a", "b"))
	f.upstream.respond("a", respondWith(http.StatusBadRequest,
		`{"error":{"message":"Rate limit exceeded: free-models-per-min"}}`))

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b"}, f.upstream.Models())
}

func TestChat_BusinessErrorRelayedAndNotRecorded(t *testing.T) {
	f := newProxy(t, pool("a", "b"))
	errBody := `{"error":{"message":"This model's maximum context length is 8192 tokens"}}`
	f.upstream.respond("a", respondWith(http.StatusBadRequest, errBody))

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errBody, w.Body.String(), "business errors are relayed verbatim")
	assert.Equal(t, []string{"a"}, f.upstream.Models(), "no failover on business errors")
	assert.Zero(t, f.tracker.Len(), "business errors are not recorded")
}

func TestChat_ExhaustionRelaysLastRateLimitResponse(t *testing.T) {
	f := newProxy(t, pool("a", "b", "c", "d"))
	for _, id := range []string{"a", "b", "c", "d"} {
		f.upstream.respond(id, respondWith(http.StatusTooManyRequests, `{"error":{"message":"rate limited on `+id+`"}}`))
	}

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"a", "b", "c"}, f.upstream.Models(), "attempts capped at min(3, pool size)")
	assert.Contains(t, w.Body.String(), "rate limited on c", "the last upstream response is relayed")
}

func TestChat_AttemptsCappedByPoolSize(t *testing.T) {
	f := newProxy(t, pool("a", "b"))
	f.upstream.respond("a", respondWith(http.StatusTooManyRequests, `{}`))
	f.upstream.respond("b", respondWith(http.StatusTooManyRequests, `{}`))

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"a", "b"}, f.upstream.Models())
}

func TestChat_TransportFailureIs502(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	deps, tr := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{BaseURL: url}), pool("a", "b"))
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(chatBody))
	req.Header.Set("Authorization", "Bearer k")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_error")
	ra, _ := tr.Record("a")
	assert.Equal(t, uint64(1), ra.Errors)
}

func TestChat_EmptyPoolIs503(t *testing.T) {
	f := newProxy(t, nil)

	w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, f.upstream.Models())
}

func TestChat_Unauthorized(t *testing.T) {
	for _, auth := range []string{"", "Basic Zm9vOmJhcg==", "Bearer", "Bearer  ", "Token abc"} {
		t.Run(auth, func(t *testing.T) {
			f := newProxy(t, pool("a"))

			w := f.do(t, http.MethodPost, "/v1/chat/completions", auth, chatBody)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "authentication_error")
			assert.Empty(t, f.upstream.Models())
		})
	}
}

func TestChat_MalformedBody(t *testing.T) {
	tests := map[string]string{
		"not json":         `{"model": `,
		"array":            `[{"role":"user"}]`,
		"missing messages": `{"model":"a"}`,
		"messages object":  `{"messages":{"role":"user"}}`,
		"empty":            ``,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f := newProxy(t, pool("a"))

			w := f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_request_error")
			assert.Empty(t, f.upstream.Models())
		})
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	deps, _ := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{}), pool("a"))
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", MaxBodyBytes: 16}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(chatBody))
	req.Header.Set("Authorization", "Bearer k")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// staticForwarder returns a canned response.
type staticForwarder struct {
	resp *upstream.Response
}

func (s staticForwarder) Forward(context.Context, string, []byte) (*upstream.Response, error) {
	return s.resp, nil
}

func TestChat_FiltersFramingHeaders(t *testing.T) {
	body := []byte(`{"id":"gen-1"}`)
	fwd := staticForwarder{resp: &upstream.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":      {"application/json"},
			"Content-Length":    {"9999"},
			"Content-Encoding":  {"gzip"},
			"Transfer-Encoding": {"chunked"},
			"Connection":        {"keep-alive"},
			"X-Ratelimit-Limit": {"20"},
		},
		Body: body,
	}}

	deps, _ := newDeps(t, fwd, pool("a"))
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(chatBody))
	req.Header.Set("Authorization", "Bearer k")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(body), w.Body.String())
	assert.Equal(t, strconv.Itoa(len(body)), w.Header().Get("Content-Length"))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Empty(t, w.Header().Get("Transfer-Encoding"))
	assert.Empty(t, w.Header().Get("Connection"))
	assert.Equal(t, "20", w.Header().Get("X-Ratelimit-Limit"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestChat_Stats(t *testing.T) {
	f := newProxy(t, pool("a", "b"))
	f.upstream.respond("a", respondWith(http.StatusTooManyRequests, `{}`))

	f.do(t, http.MethodPost, "/v1/chat/completions", "Bearer k", chatBody)

	w := f.do(t, http.MethodGet, "/v1/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got server.StatsBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Models, 2)
	assert.Equal(t, "a", got.Models[0].Model)
	assert.Equal(t, uint64(1), got.Models[0].Errors)
	assert.NotNil(t, got.Models[0].LastErrorAt)
	assert.Equal(t, "b", got.Models[1].Model)
	assert.Equal(t, uint64(1), got.Models[1].Successes)
}
