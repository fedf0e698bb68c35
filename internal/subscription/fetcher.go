// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subscription implements the Subscription Fetcher: retrieving a
// remote profile over HTTP with retries, and parsing its headers and body
// (spec §4.B).
package subscription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/veilmesh/veilcore/internal/core/urlutil"
	"github.com/veilmesh/veilcore/internal/platform/httpx"
	"github.com/veilmesh/veilcore/internal/resilience"
	"github.com/veilmesh/veilcore/internal/version"
)

// fetchTimeout is the per-attempt timeout (spec §4.B: "GET with 30s
// timeout").
const fetchTimeout = 30 * time.Second

// wellKnownKeys are the two top-level keys a remote profile body must
// contain at least one of to be considered a valid configuration mapping
// (spec §3: "must parse as a mapping containing at least one of two
// well-known keys, else ingestion fails").
var wellKnownKeys = []string{"proxies", "proxy-groups"}

// ProxyChoice selects how the fetcher routes its HTTP client.
type ProxyChoice struct {
	UseOwnProxy      bool
	OwnProxyAddr     string // "127.0.0.1:<mixed-port>"
	UseSystemProxy   bool
	SystemProxyURL   string // non-empty when the host reports an active system proxy
}

// Options configures one fetch.
type Options struct {
	UserAgent string
	Proxy     ProxyChoice
}

func defaultUserAgent() string {
	return fmt.Sprintf("%s/v%s", "veilcore", version.Version)
}

// Result is the Subscription Fetcher's successful output (spec §4.B).
type Result struct {
	URL               string
	Filename          string
	Mapping           *yaml.Node
	Info              *Info
	SuggestedInterval int // minutes, 0 if absent
}

// Info is the subscription-userinfo header's parsed fields.
type Info struct {
	Upload   int64
	Download int64
	Total    int64
	Expire   int64
}

// Fetcher retrieves and parses a remote profile.
type Fetcher struct {
	breaker *resilience.CircuitBreaker
	sf      singleflight.Group
}

// New returns a Fetcher with one circuit breaker shared by every
// subscription URL, tripping after repeated fetch failures across all of them.
func New() *Fetcher {
	return &Fetcher{
		breaker: resilience.NewCircuitBreaker("subscription-fetch", 5, 2, time.Minute, 30*time.Second),
	}
}

// Fetch performs one subscription retrieval (spec §4.B steps 1-6). Calls for
// the same rawURL that arrive while a fetch is already in flight share its
// result instead of issuing a second request against the origin.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	v, err, _ := f.sf.Do(rawURL, func() (interface{}, error) {
		return f.fetch(ctx, rawURL, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	rawURL, err := urlutil.NormalizeHost(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	client := buildClient(opts.Proxy)
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent()
	}

	var resp *http.Response
	err = f.breaker.Execute(func() error {
		return backoff.Retry(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrNetwork, err))
			}
			req.Header.Set("User-Agent", ua)

			r, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNetwork, err)
			}
			if r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden || r.StatusCode == http.StatusNotFound {
				r.Body.Close()
				return backoff.Permanent(fmt.Errorf("%w: status %d for %s", ErrNetwork, r.StatusCode, urlutil.SanitizeURL(rawURL)))
			}
			if r.StatusCode >= 500 {
				r.Body.Close()
				return fmt.Errorf("%w: status %d", ErrNetwork, r.StatusCode)
			}
			resp = r
			return nil
		}, backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), 2))
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	body = stripBOM(body)

	info := parseSubscriptionUserinfo(resp.Header.Get("subscription-userinfo"))
	filename := parseContentDisposition(resp.Header.Get("content-disposition"))
	suggestedInterval := parseUpdateIntervalHeader(resp.Header.Get("profile-update-interval"))

	var mapping yaml.Node
	if err := yaml.Unmarshal(body, &mapping); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	root := unwrapDocument(&mapping)
	if !containsAnyKey(root, wellKnownKeys) {
		return nil, fmt.Errorf("%w: body for %s lacks both of %v", ErrValidationFailed, urlutil.SanitizeURL(rawURL), wellKnownKeys)
	}

	return &Result{
		URL:               rawURL,
		Filename:          filename,
		Mapping:           root,
		Info:              info,
		SuggestedInterval: suggestedInterval,
	}, nil
}

func buildClient(choice ProxyChoice) *http.Client {
	var proxyFn func(*http.Request) (*url.URL, error)
	switch {
	case choice.UseOwnProxy && choice.OwnProxyAddr != "":
		fixed := &url.URL{Scheme: "http", Host: choice.OwnProxyAddr}
		proxyFn = http.ProxyURL(fixed)
	case choice.UseSystemProxy && choice.SystemProxyURL != "":
		if u, err := url.Parse(choice.SystemProxyURL); err == nil {
			proxyFn = http.ProxyURL(u)
		}
	default:
		// Disable the ambient environment proxy entirely (spec §4.B step 1).
		proxyFn = nil
	}
	return httpx.NewClientWithProxy(fetchTimeout, proxyFn)
}

func stripBOM(b []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if len(b) >= 3 && string(b[:3]) == bom {
		return b[3:]
	}
	return b
}

func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0]
	}
	return n
}

func containsAnyKey(n *yaml.Node, keys []string) bool {
	if n == nil || n.Kind != yaml.MappingNode {
		return false
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if _, ok := set[n.Content[i].Value]; ok {
			return true
		}
	}
	return false
}

// parseSubscriptionUserinfo parses "upload=…; download=…; total=…; expire=…".
func parseSubscriptionUserinfo(header string) *Info {
	if header == "" {
		return nil
	}
	info := &Info{}
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		val, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "upload":
			info.Upload = val
		case "download":
			info.Download = val
		case "total":
			info.Total = val
		case "expire":
			info.Expire = val
		}
	}
	return info
}

// parseContentDisposition prefers RFC 5987 filename*, percent-decoded value
// after the first ''.
func parseContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "filename*=") {
			val := part[len("filename*="):]
			if idx := strings.Index(val, "''"); idx >= 0 {
				val = val[idx+2:]
			}
			if decoded, err := url.QueryUnescape(val); err == nil {
				return decoded
			}
			return val
		}
	}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "filename=") {
			return strings.Trim(part[len("filename="):], `"`)
		}
	}
	return ""
}

// parseUpdateIntervalHeader converts an hours value into minutes.
func parseUpdateIntervalHeader(header string) int {
	if header == "" {
		return 0
	}
	hours, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return 0
	}
	return hours * 60
}
