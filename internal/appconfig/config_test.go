// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.False(t, *cfg.EnableTunMode)
	assert.Equal(t, uint16(7890), *cfg.VergeMixedPort)
	assert.Equal(t, CoreMihomo, *cfg.ClashCore)
	assert.Equal(t, uint64(10), *cfg.ProxyGuardInterval)
}

func TestLoad_ClampsProxyGuardIntervalFloor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "veilcore.yaml"), []byte("proxy_guard_interval: 0\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), *cfg.ProxyGuardInterval)
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := &FileConfig{}
	mergeDefaults(cfg)
	*cfg.EnableSystemProxy = true
	*cfg.VergeMixedPort = 9090

	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, *loaded.EnableSystemProxy)
	assert.Equal(t, uint16(9090), *loaded.VergeMixedPort)
}
