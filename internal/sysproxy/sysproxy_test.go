// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sysproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSetter struct {
	mu        sync.Mutex
	applied   []Intent
	captured  Intent
	autoProxy bool
}

func (f *fakeSetter) Apply(_ context.Context, intent Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, intent)
	return nil
}

func (f *fakeSetter) Capture(context.Context) (Intent, error) {
	return f.captured, nil
}

func (f *fakeSetter) SupportsAutoProxy() bool { return f.autoProxy }

func (f *fakeSetter) lastApplied() (Intent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applied) == 0 {
		return Intent{}, 0
	}
	return f.applied[len(f.applied)-1], len(f.applied)
}

func TestManager_Apply_ManualProxyWhenNoPACSupport(t *testing.T) {
	setter := &fakeSetter{autoProxy: false}
	m := New(setter)

	err := m.Apply(context.Background(), Intent{Enabled: true, Host: "127.0.0.1", Port: 7890, PACURL: "http://example/pac.js"})
	require.NoError(t, err)

	applied, n := setter.lastApplied()
	assert.Equal(t, 1, n)
	assert.Empty(t, applied.PACURL)
	assert.Equal(t, 7890, applied.Port)
}

func TestManager_Apply_PACWinsWhenSupported(t *testing.T) {
	setter := &fakeSetter{autoProxy: true}
	m := New(setter)

	err := m.Apply(context.Background(), Intent{PACURL: "http://example/pac.js"})
	require.NoError(t, err)

	applied, _ := setter.lastApplied()
	assert.Equal(t, "http://example/pac.js", applied.PACURL)
}

func TestManager_Reset_RestoresOriginalWhenPortsMatch(t *testing.T) {
	setter := &fakeSetter{captured: Intent{Enabled: true, Port: 8080}}
	m := New(setter)

	require.NoError(t, m.Apply(context.Background(), Intent{Enabled: true, Port: 8080}))
	require.NoError(t, m.Reset(context.Background()))

	applied, n := setter.lastApplied()
	assert.Equal(t, 2, n)
	assert.False(t, applied.Enabled)
	assert.Equal(t, 8080, applied.Port)
}

func TestManager_StartGuard_ReappliesIntentPeriodically(t *testing.T) {
	setter := &fakeSetter{}
	m := New(setter)
	require.NoError(t, m.Apply(context.Background(), Intent{Enabled: true, Port: 7890}))

	ctx, cancel := context.WithCancel(context.Background())
	m.StartGuard(ctx, minGuardInterval)

	time.Sleep(2*minGuardInterval + 500*time.Millisecond)
	cancel()
	m.StopGuard()

	_, n := setter.lastApplied()
	assert.Greater(t, n, 1)
}

func TestFetchPAC_ValidatesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("function FindProxyForURL(url, host) { return 'DIRECT'; }"))
	}))
	defer srv.Close()

	script, err := FetchPAC(context.Background(), srv.URL)
	require.NoError(t, err)

	path, err := CachePAC(t.TempDir(), script)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestFetchPAC_RejectsScriptMissingEntryPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a pac script"))
	}))
	defer srv.Close()

	_, err := FetchPAC(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrInvalidPAC)
}
