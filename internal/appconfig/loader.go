// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound names a missing config file. Load does not return it: a
// missing file yields a fully defaulted config instead.
var ErrNotFound = errors.New("appconfig: config file not found")

// ConfigDir resolves the app config directory from environment variables on
// Linux (spec §6: "Paths are resolvable from environment variables on
// Linux AppImage builds"). The Windows registry override is an open
// extension point, not implemented here (see DESIGN.md).
func ConfigDir() string {
	if v := strings.TrimSpace(os.Getenv("APPIMAGE")); v != "" {
		return filepath.Join(filepath.Dir(v), "veilcore")
	}
	if v := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); v != "" {
		return filepath.Join(v, "veilcore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "veilcore")
	}
	return "."
}

// Load reads <dir>/veilcore.yaml, applying defaults to every unset field.
// A missing file is not an error: Load returns a fully defaulted config.
func Load(dir string) (*FileConfig, error) {
	path := filepath.Join(dir, "veilcore.yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &FileConfig{}
		mergeDefaults(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appconfig: read %s: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("appconfig: parse %s: %w", path, err)
	}
	mergeDefaults(&cfg)
	return &cfg, nil
}

// Save writes cfg to <dir>/veilcore.yaml.
func Save(dir string, cfg *FileConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("appconfig: create dir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("appconfig: encode: %w", err)
	}
	path := filepath.Join(dir, "veilcore.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("appconfig: write %s: %w", path, err)
	}
	return nil
}
