// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

//go:embed freeroute.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/freeroute/freeroute.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", frerr.Errorf(frerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "freeroute", "freeroute.yaml"), nil
}

// BootstrapConfig writes the commented default config to path, or to
// DefaultConfigPath when path is empty, unless a file is already there.
// It returns the path written, or "" when nothing was written. Failures are
// logged and otherwise ignored.
func BootstrapConfig(path string) string {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			slog.Debug("config: skipping bootstrap", "error", err)
			return ""
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		return ""
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("config: skipping bootstrap, cannot create directory", "path", dir, "error", err)
		return ""
	}
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("config: skipping bootstrap, cannot write file", "path", path, "error", err)
		return ""
	}

	slog.Info("config: created default config", "path", path)
	return path
}
