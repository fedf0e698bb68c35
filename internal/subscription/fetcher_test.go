// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFetch_ScenarioTwo matches spec §8 scenario 2.
func TestFetch_ScenarioTwo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("subscription-userinfo", "upload=1; download=2; total=3; expire=4")
		w.Header().Set("profile-update-interval", "2")
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write([]byte("proxies:\n  - x\n"))
	}))
	defer srv.Close()

	f := New()
	result, err := f.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Info)
	assert.Equal(t, int64(1), result.Info.Upload)
	assert.Equal(t, int64(2), result.Info.Download)
	assert.Equal(t, int64(3), result.Info.Total)
	assert.Equal(t, int64(4), result.Info.Expire)
	assert.Equal(t, 120, result.SuggestedInterval)
}

func TestFetch_TerminalStatusDoesNotRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, hits)
}

func TestFetch_RejectsBodyWithoutWellKnownKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("unrelated: true\n"))
	}))
	defer srv.Close()

	f := New()
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestParseContentDisposition_PrefersRFC5987(t *testing.T) {
	header := `attachment; filename="plain.yaml"; filename*=UTF-8''profile%20name.yaml`
	assert.Equal(t, "profile name.yaml", parseContentDisposition(header))
}
