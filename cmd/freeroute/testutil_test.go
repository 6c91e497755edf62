// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/config"
	"github.com/sigil-dev/freeroute/internal/secrets"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// testCatalog has two free models and one paid one.
var testCatalog = catalog.StaticSource{
	{ID: "a/one:free", Name: "One", ContextLength: 8000, Pricing: catalog.Pricing{Prompt: "0", Completion: "0"}},
	{ID: "b/two:free", Name: "Two", ContextLength: 32000, Pricing: catalog.Pricing{Prompt: "0", Completion: "0"}},
	{ID: "c/paid", Name: "Paid", ContextLength: 128000, Pricing: catalog.Pricing{Prompt: "0.000001", Completion: "0.000002"}},
}

// isolate runs the test from an empty directory with an empty home, so no
// local config, .env file, or keyring entry leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	useSource(t, testCatalog)
	useSecretStore(t, newMemStore())
	return home
}

func useSource(t *testing.T, src catalog.Source) {
	t.Helper()
	orig := sourceFactory
	sourceFactory = func(*config.Config) catalog.Source { return src }
	t.Cleanup(func() { sourceFactory = orig })
}

func useSecretStore(t *testing.T, store secrets.Store) {
	t.Helper()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = orig })
}

// run executes the root command with args and stdin, returning stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	t.Log(errOut.String())
	return out.String(), err
}

// memStore is an in-memory secrets.Store.
type memStore struct {
	mu   sync.Mutex
	keys map[string][]string
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{keys: map[string][]string{}, data: map[string]string{}}
}

func (m *memStore) Store(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service+"/"+key]; !ok {
		m.keys[service] = append(m.keys[service], key)
	}
	m.data[service+"/"+key] = value
	return nil
}

func (m *memStore) Retrieve(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+"/"+key]
	if !ok {
		return "", frerr.Errorf(frerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return v, nil
}

func (m *memStore) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service+"/"+key]; !ok {
		return frerr.Errorf(frerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	delete(m.data, service+"/"+key)
	m.keys[service] = slices.DeleteFunc(m.keys[service], func(k string) bool { return k == key })
	return nil
}

func (m *memStore) List(service string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.keys[service]), nil
}
