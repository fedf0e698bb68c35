// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
package urlutil

import (
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/idna"
)

// SanitizeURL removes user info from a URL string for safe logging.
func SanitizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	parsedURL.RawQuery = ""
	return parsedURL.String()
}

// NormalizeHost rewrites rawURL's host to its ASCII (punycode) form so
// internationalized subscription hostnames resolve and compare consistently.
func NormalizeHost(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsedURL.Host == "" {
		return rawURL, nil
	}
	hostname := parsedURL.Hostname()
	if ip := net.ParseIP(hostname); ip != nil {
		return rawURL, nil
	}
	ascii, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return "", fmt.Errorf("normalize host: %w", err)
	}
	if port := parsedURL.Port(); port != "" {
		parsedURL.Host = ascii + ":" + port
	} else {
		parsedURL.Host = ascii
	}
	return parsedURL.String(), nil
}
