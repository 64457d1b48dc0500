// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/elouarate/gallery-admin/internal/config"
	"github.com/elouarate/gallery-admin/internal/logging"
	"github.com/elouarate/gallery-admin/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// flagKeys maps command-line flags onto configuration keys. Only flags the
// user sets override the file and environment.
var flagKeys = map[string]string{
	"database-url":   "database.url",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"listen":         "server.listen",
	"metrics-listen": "server.metrics_listen",
	"auto-migrate":   "database.auto_migrate",
	"counter":        "counter.backend",
	"notify":         "notify.backend",
}

// NewRootCmd creates the root command for the gallery-admin CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery-admin",
		Short: "Gallery administration credential service",
		Long: `gallery-admin authenticates gallery administrators and users, issues
signed access and refresh tokens, enforces login lockout and runs the
password reset flow against PostgreSQL and a shared counter store.`,
		SilenceUsage: true,
	}

	defaults := config.Default()
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/gallery-admin/config.yaml)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	cmd.PersistentFlags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newBootstrapCmd(deps))
	cmd.AddCommand(newSweepCmd(deps))
	cmd.AddCommand(newPrincipalCmd(deps))
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the config file and loads the layered configuration
// for cmd. Callers validate the sections they use.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return config.Config{}, oops.With("operation", "locate config file").Wrap(err)
		}
		path = found
	}

	cfg, err := config.Load(config.Sources{
		File:     path,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// setupLogger installs the default logger for cmd.
func setupLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logging.SetDefault(logging.Options{
		Service: "gallery-admin",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.LogLevel(),
		Output:  cmd.ErrOrStderr(),
	})
}
