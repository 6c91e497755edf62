// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/zalando/go-keyring"
)

// indexSuffix names the entry holding a service's key list. go-keyring
// cannot enumerate entries, so List reads this index instead.
const indexSuffix = "::index"

// KeyringStore implements Store on the OS keyring (Keychain, Secret
// Service, or Credential Manager).
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkRef("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return frerr.Wrapf(err, frerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkRef("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", frerr.Errorf(frerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", frerr.Wrapf(err, frerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkRef("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return frerr.Errorf(frerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return frerr.Wrapf(err, frerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, frerr.Wrapf(err, frerr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, frerr.Wrapf(err, frerr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, fn func([]string) []string) error {
	keys, err := s.List(service)
	if err != nil {
		return err
	}
	keys = fn(keys)

	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("secrets: removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return frerr.Wrapf(err, frerr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return frerr.Wrapf(err, frerr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}

func checkRef(op, service, key string) error {
	if service == "" {
		return frerr.Errorf(frerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return frerr.Errorf(frerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}
