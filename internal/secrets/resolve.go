// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"errors"
	"strings"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/spf13/viper"
)

const scheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, scheme)
}

// URI builds the config reference for a stored secret.
func URI(service, key string) string {
	return scheme + service + "/" + key
}

// ParseKeyringURI splits keyring://service/key. The key may contain slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", frerr.Errorf(frerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(uri, scheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", frerr.Errorf(frerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// Resolve returns the secret a keyring URI points at. Other values are
// returned unchanged.
func Resolve(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}
	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}
	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", frerr.Wrapf(err, frerr.CodeSecretResolveFailure, "resolving %q", value)
	}
	return secret, nil
}

// ResolveViper replaces every keyring URI among v's string values with the
// secret it names. Values that fail to resolve are left as they were and
// reported together in the returned error, keyed by config path.
func ResolveViper(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		raw, ok := v.Get(key).(string)
		if !ok || !IsKeyringURI(raw) {
			continue
		}
		secret, err := Resolve(store, raw)
		if err != nil {
			errs = append(errs, frerr.Wrapf(err, frerr.CodeSecretResolveFailure, "%s (%s)", key, raw))
			continue
		}
		v.Set(key, secret)
	}
	return errors.Join(errs...)
}
