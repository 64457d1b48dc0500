// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/elouarate/gallery-admin/internal/config"
	"github.com/elouarate/gallery-admin/internal/xdg"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and check configuration",
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				cmd.Println(string(data))
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", out).Wrap(err)
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", out).Wrap(err)
			}
			cmd.Printf("Generated %s\n", out)
			return nil
		},
	}
	schema.Flags().StringP("output", "o", "", "write the schema to this file instead of stdout")
	cmd.AddCommand(schema)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a config file and the resulting configuration",
		Long: `Check FILE (default: --config or the XDG config file) against the
schema, then load it with the environment and validate the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				found, err := xdg.FindConfigFile()
				if err != nil {
					return err
				}
				path = found
			}

			if path != "" {
				data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
				if err != nil {
					return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
				}
				if err := config.ValidateFile(data); err != nil {
					return oops.With("path", path).Wrap(err)
				}
			}

			cfg, err := config.Load(config.Sources{File: path, Flags: cmd.Flags(), FlagKeys: flagKeys})
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			if path == "" {
				path = "(defaults and environment only)"
			}
			cmd.Printf("Configuration is valid: %s\n", path)
			return nil
		},
	})

	return cmd
}
