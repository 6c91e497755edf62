// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sigil-dev/freeroute/internal/config"
	"github.com/sigil-dev/freeroute/internal/secrets"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// skipConfigAnnotation marks commands that run without loading config.
const skipConfigAnnotation = "freeroute/skip-config"

// secretStoreFactory creates the secrets.Store used to resolve keyring://
// references and by the secret commands. Tests substitute an in-memory store.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

// app holds what the root pre-run prepares for subcommands.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root freeroute command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: slog.Default()}

	root := &cobra.Command{
		Use:           "freeroute",
		Short:         "freeroute, failover routing over free OpenRouter models",
		Long:          "freeroute keeps a pool of free OpenRouter models, tracks which of them are failing, and routes each chat completion to the healthiest one.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipsConfig(cmd) {
				return nil
			}
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "path to config file")
	pf.String("env-file", ".env", "dotenv file loaded into the environment if present")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")

	root.AddCommand(
		newServeCmd(a),
		newModelsCmd(a),
		newChatCmd(a),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] != "" {
			return true
		}
	}
	return false
}

// init loads .env, then config with the precedence
// flag > env > file > defaults, and installs the logger.
func (a *app) init(cmd *cobra.Command) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return frerr.Errorf(frerr.CodeConfigLoadReadFailure, "loading %s: %w", envFile, err)
		}
	}

	v := a.v
	config.SetDefaults(v)
	config.SetupEnv(v)

	if err := readConfigFile(v, cmd); err != nil {
		return err
	}

	root := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("log.level", root.Lookup("log-level")); err != nil {
		return frerr.Errorf(frerr.CodeCLISetupFailure, "binding log-level flag: %w", err)
	}
	if err := v.BindPFlag("log.format", root.Lookup("log-format")); err != nil {
		return frerr.Errorf(frerr.CodeCLISetupFailure, "binding log-format flag: %w", err)
	}

	cfg, err := config.FromViper(v, secretStoreFactory())
	if err != nil {
		return err
	}
	config.WarnInsecurePermissions(v.ConfigFileUsed())

	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
	slog.SetDefault(a.logger)
	return nil
}

func readConfigFile(v *viper.Viper, cmd *cobra.Command) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return frerr.Errorf(frerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
		return nil
	}

	// SetConfigType is left unset so viper does not try the bare name,
	// which would match a ./freeroute binary.
	v.SetConfigName("freeroute")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/freeroute")
	v.AddConfigPath("/etc/freeroute")

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return frerr.Errorf(frerr.CodeConfigLoadReadFailure, "reading config: %w", err)
	}

	if path := config.BootstrapConfig(""); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return frerr.Errorf(frerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
		}
	}
	return nil
}

// newLogger builds the slog logger described by lc. lc is validated, so an
// unknown level falls back to info.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
