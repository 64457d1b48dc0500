// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package xdg locates gallery-admin files under the XDG base directories.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName        = "gallery-admin"
	configFileName = "config.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/gallery-admin, falling back to
// ~/.config/gallery-admin.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_HOME_UNKNOWN").Wrap(err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigFile returns the default config file path. The file may not exist.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// FindConfigFile returns the default config file path when the file exists,
// or "" when it does not.
func FindConfigFile() (string, error) {
	path, err := ConfigFile()
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("XDG_CONFIG_IS_DIR").With("path", path).Errorf("config path is a directory")
	}
	return path, nil
}
