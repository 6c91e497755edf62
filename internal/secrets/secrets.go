// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps upstream API keys out of config files. Keys live in
// the OS keyring and config values refer to them as keyring://service/key.
package secrets

// DefaultService is the keyring service freeroute stores its keys under.
const DefaultService = "freeroute"

// Store provides secret storage.
type Store interface {
	Store(service, key, value string) error

	// Retrieve returns a secret.entry.not_found error for unknown keys.
	Retrieve(service, key string) (string, error)

	// Delete returns a secret.entry.not_found error for unknown keys.
	Delete(service, key string) error

	// List returns the key names stored under service, in insertion order.
	List(service string) ([]string, error)
}
