// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmesh/veilcore/internal/appconfig"
	"github.com/veilmesh/veilcore/internal/profile"
	"github.com/veilmesh/veilcore/internal/subscription"
	"github.com/veilmesh/veilcore/internal/sysproxy"
)

func testConfig(t *testing.T) *appconfig.FileConfig {
	t.Helper()
	cfg, err := appconfig.Load(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestPortOrDefault(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, uint16(7890), portOrDefault(cfg))

	port := uint16(9999)
	cfg.VergeMixedPort = &port
	assert.Equal(t, port, portOrDefault(cfg))
}

func TestCurrentIntent_DisabledByDefault(t *testing.T) {
	cfg := testConfig(t)
	intent := currentIntent(cfg)
	assert.False(t, intent.Enabled)
	assert.Equal(t, sysproxy.DefaultBypass, intent.Bypass)
	assert.Equal(t, "127.0.0.1", intent.Host)
}

func TestCurrentIntent_UsesCustomBypassAndPAC(t *testing.T) {
	cfg := testConfig(t)
	enabled := true
	cfg.EnableSystemProxy = &enabled
	bypass := "example.com,internal.test"
	cfg.SystemProxyBypass = &bypass
	pac := "http://127.0.0.1:7890/pac"
	cfg.PACURL = &pac

	intent := currentIntent(cfg)
	assert.True(t, intent.Enabled)
	assert.Equal(t, bypass, intent.Bypass)
	assert.Equal(t, pac, intent.PACURL)
}

// newTestStore opens a fresh profile store plus its backing content
// directory under a temp dir.
func newTestStore(t *testing.T) (*profile.Store, string) {
	t.Helper()
	dir := t.TempDir()
	profileDir := filepath.Join(dir, "profiles")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))
	store, err := profile.Open(filepath.Join(dir, "profiles.yaml"), profileDir)
	require.NoError(t, err)
	return store, profileDir
}

func TestRefreshDueSubscriptions_FetchesAndPatchesDueProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("subscription-userinfo", "upload=10; download=20; total=1000; expire=999")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("proxies:\n  - name: a\nproxy-groups:\n  - name: g\n"))
	}))
	defer srv.Close()

	store, profileDir := newTestStore(t)

	p := profile.Profile{
		Header: profile.Header{ID: "remote-1", Name: "remote", Files: []string{"remote-1.yaml"}},
		Type:   profile.VariantRemote,
		URL:    srv.URL,
	}
	require.NoError(t, store.Append(p))

	fetcher := subscription.New()
	logger := zerolog.Nop()

	err := refreshDueSubscriptions(context.Background(), store, profileDir, fetcher, logger)
	require.NoError(t, err)

	got, err := store.Get("remote-1")
	require.NoError(t, err)
	assert.False(t, got.LastFetchedAt.IsZero())
	require.NotNil(t, got.Subscription)
	assert.Equal(t, int64(10), got.Subscription.Upload)
	assert.Equal(t, int64(20), got.Subscription.Download)

	raw, err := os.ReadFile(filepath.Join(profileDir, "remote-1.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "proxies")
}

func TestRefreshDueSubscriptions_SkipsNotYetDue(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("proxies: []\n"))
	}))
	defer srv.Close()

	store, profileDir := newTestStore(t)

	p := profile.Profile{
		Header:        profile.Header{ID: "remote-2", Name: "remote", Files: []string{"remote-2.yaml"}},
		Type:          profile.VariantRemote,
		URL:           srv.URL,
		LastFetchedAt: time.Now(),
		Options:       &profile.RemoteOptions{UpdateIntervalMinutes: 120},
	}
	require.NoError(t, store.Append(p))

	fetcher := subscription.New()
	logger := zerolog.Nop()

	err := refreshDueSubscriptions(context.Background(), store, profileDir, fetcher, logger)
	require.NoError(t, err)
	assert.False(t, called, "fetch should be skipped when the update interval hasn't elapsed")
}

func TestRefreshDueSubscriptions_SkipsNonRemoteProfiles(t *testing.T) {
	store, profileDir := newTestStore(t)

	p := profile.Profile{
		Header: profile.Header{ID: "local-1", Name: "local", Files: []string{"local-1.yaml"}},
		Type:   profile.VariantLocal,
	}
	require.NoError(t, store.Append(p))

	fetcher := subscription.New()
	logger := zerolog.Nop()

	err := refreshDueSubscriptions(context.Background(), store, profileDir, fetcher, logger)
	require.NoError(t, err)

	got, err := store.Get("local-1")
	require.NoError(t, err)
	assert.True(t, got.LastFetchedAt.IsZero())
}
