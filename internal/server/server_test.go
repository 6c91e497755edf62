// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/freeroute/internal/availability"
	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/failover"
	"github.com/sigil-dev/freeroute/internal/server"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream records the model of every forwarded body and answers with
// the response registered for that model, or 200 by default.
type fakeUpstream struct {
	mu        sync.Mutex
	models    []string
	bodies    [][]byte
	auth      []string
	responses map[string]func(w http.ResponseWriter)
}

func (u *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var doc struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(raw, &doc)

	u.mu.Lock()
	u.models = append(u.models, doc.Model)
	u.bodies = append(u.bodies, raw)
	u.auth = append(u.auth, r.Header.Get("Authorization"))
	respond := u.responses[doc.Model]
	u.mu.Unlock()

	if respond != nil {
		respond(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Upstream-Model", doc.Model)
	_, _ = io.WriteString(w, `{"id":"gen-1","object":"chat.completion","model":"`+doc.Model+`","choices":[]}`)
}

func (u *fakeUpstream) Models() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.models...)
}

func (u *fakeUpstream) respond(model string, fn func(w http.ResponseWriter)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.responses[model] = fn
}

func (u *fakeUpstream) Auth() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.auth...)
}

func (u *fakeUpstream) Bodies() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]byte(nil), u.bodies...)
}

func respondWith(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

type proxyFixture struct {
	srv      *server.Server
	tracker  *availability.Tracker
	upstream *fakeUpstream
}

func pool(ids ...string) []catalog.Model {
	out := make([]catalog.Model, len(ids))
	for i, id := range ids {
		out[i] = catalog.Model{ID: id, Created: int64(1700000000 + i)}
	}
	return out
}

func newDeps(t *testing.T, fwd server.Forwarder, models []catalog.Model) (server.Deps, *availability.Tracker) {
	t.Helper()
	tr, err := availability.New(3)
	require.NoError(t, err)
	ctrl := failover.New(tr, failover.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return server.Deps{Tracker: tr, Controller: ctrl, Forwarder: fwd, Pool: models}, tr
}

func newProxy(t *testing.T, models []catalog.Model) *proxyFixture {
	t.Helper()
	up := &fakeUpstream{responses: map[string]func(http.ResponseWriter){}}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	deps, tr := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{BaseURL: upSrv.URL}), models)
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	return &proxyFixture{srv: srv, tracker: tr, upstream: up}
}

func (f *proxyFixture) do(t *testing.T, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.7,"x_vendor":{"keep":true}}`

func TestServer_New_EmptyListenAddr(t *testing.T) {
	deps, _ := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{}), nil)
	_, err := server.New(server.Config{}, deps)
	require.Error(t, err)
	assert.True(t, frerr.HasCode(err, frerr.CodeServerConfigInvalid), "expected CodeServerConfigInvalid, got %s", frerr.CodeOf(err))
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestServer_New_MissingDeps(t *testing.T) {
	_, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.Deps{})
	require.Error(t, err)
	assert.True(t, frerr.HasCode(err, frerr.CodeServerConfigInvalid))
}

func TestServer_New_InvalidTrustedProxies(t *testing.T) {
	deps, _ := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{}), nil)
	_, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", TrustedProxies: []string{"not-a-cidr"}}, deps)
	require.Error(t, err)
	assert.True(t, frerr.HasCode(err, frerr.CodeServerConfigInvalid))
}

func TestServer_HealthEndpoint(t *testing.T) {
	f := newProxy(t, pool("a"))

	w := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_ListModels(t *testing.T) {
	f := newProxy(t, pool("meta-llama/llama-3.3-70b-instruct:free", "google/gemma-3-27b-it:free"))

	w := f.do(t, http.MethodGet, "/v1/models", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"object": "list",
		"data": [
			{"id": "meta-llama/llama-3.3-70b-instruct:free", "object": "model", "created": 1700000000,
			 "owned_by": "openrouter", "permission": [], "root": "meta-llama/llama-3.3-70b-instruct:free", "parent": null},
			{"id": "google/gemma-3-27b-it:free", "object": "model", "created": 1700000001,
			 "owned_by": "openrouter", "permission": [], "root": "google/gemma-3-27b-it:free", "parent": null}
		]
	}`, w.Body.String())
}

func TestServer_SetPool(t *testing.T) {
	f := newProxy(t, pool("a"))
	f.srv.SetPool(pool("b", "c"))

	assert.Equal(t, []string{"b", "c"}, catalog.IDs(f.srv.Pool()))
	w := f.do(t, http.MethodGet, "/v1/models", "", "")
	assert.Contains(t, w.Body.String(), `"id":"c"`)
}

func TestServer_NotFound(t *testing.T) {
	f := newProxy(t, pool("a"))

	w := f.do(t, http.MethodGet, "/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found_error")
}

func TestServer_OpenAPISpec(t *testing.T) {
	f := newProxy(t, pool("a"))

	w := f.do(t, http.MethodGet, "/openapi.json", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "/v1/chat/completions", "OpenAPI spec must include the chat completions path")
	assert.Contains(t, body, "create-chat-completion")
	assert.Contains(t, body, "list-models")
	assert.Contains(t, body, "get-stats")
}

func TestServer_CORSHeaders(t *testing.T) {
	deps, _ := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{}), pool("a"))
	srv, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"http://localhost:3000"},
	}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_GracefulShutdown(t *testing.T) {
	f := newProxy(t, pool("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.srv.Start(ctx)
	}()

	<-ctx.Done()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
}

func TestServer_StartListenFailure(t *testing.T) {
	deps, _ := newDeps(t, upstream.NewForwarder(upstream.ForwarderConfig{}), pool("a"))
	srv, err := server.New(server.Config{ListenAddr: "256.0.0.1:bad"}, deps)
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, frerr.HasCode(err, frerr.CodeServerStartFailure))
}

func stringsReader(s string) io.Reader { return strings.NewReader(s) }
