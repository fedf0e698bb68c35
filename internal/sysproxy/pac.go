// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/veilmesh/veilcore/internal/platform/httpx"
)

const (
	pacDownloadTimeout = 30 * time.Second
	pacMaxRetries      = 3
	pacRetryDelay      = 5 * time.Second
	pacRequiredSymbol  = "FindProxyForURL"
	pacCacheFilename   = "pac.js"
)

// ErrInvalidPAC is returned when a downloaded script lacks the
// FindProxyForURL entry point required by the PAC convention.
var ErrInvalidPAC = errors.New("sysproxy: PAC script missing FindProxyForURL")

// FetchPAC downloads and sanity-checks a PAC script, retrying up to
// pacMaxRetries times spaced pacRetryDelay apart (spec §4.F).
func FetchPAC(ctx context.Context, url string) (string, error) {
	client := httpx.NewClient(pacDownloadTimeout)

	var script string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("download PAC script: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("download PAC script: status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read PAC script: %w", err)
		}
		script = string(body)
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(
		&backoff.ConstantBackOff{Interval: pacRetryDelay}, ctx), pacMaxRetries-1)
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("sysproxy: PAC fetch failed after %d attempts: %w", pacMaxRetries, err)
	}
	if !strings.Contains(script, pacRequiredSymbol) {
		return "", ErrInvalidPAC
	}
	return script, nil
}

// CachePAC writes the script to <cacheDir>/pac.js, returning its path.
func CachePAC(cacheDir, script string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("sysproxy: create cache dir: %w", err)
	}
	path := filepath.Join(cacheDir, pacCacheFilename)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("sysproxy: write PAC cache: %w", err)
	}
	return path, nil
}
