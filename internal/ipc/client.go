// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ipc implements the client side of the privileged helper's wire
// contract: a local socket carrying one framed JSON request and one framed
// JSON response per call (spec §6: "A local socket with typed requests").
//
// Named-pipe transport for Windows is documented but not implemented; the
// helper process itself is out of scope for this module.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by calls made after the client has been closed.
var ErrClosed = errors.New("ipc: client closed")

// RequestKind identifies one of the helper's typed requests.
type RequestKind string

const (
	KindStartCore  RequestKind = "StartCore"
	KindStopCore   RequestKind = "StopCore"
	KindStatus     RequestKind = "Status"
	KindInstall    RequestKind = "Install"
	KindUninstall  RequestKind = "Uninstall"
	KindUpdate     RequestKind = "Update"
	KindSetDns     RequestKind = "SetDns"
)

// Request is the envelope sent to the helper. Payload fields are optional
// and vary by Kind.
type Request struct {
	Kind       RequestKind `json:"kind"`
	ConfigFile string      `json:"config-file,omitempty"`
	CoreType   string      `json:"core-type,omitempty"`
	Servers    []string    `json:"servers,omitempty"`
}

// CoreInfo is the helper's view of the core's lifecycle state.
type CoreInfo struct {
	State          string    `json:"state"`
	StateChangedAt time.Time `json:"state-changed-at"`
}

// Response is the envelope returned by the helper.
type Response struct {
	OK        bool     `json:"ok"`
	Error     string   `json:"error,omitempty"`
	Version   string   `json:"version,omitempty"`
	CoreInfos CoreInfo `json:"core-infos,omitempty"`
}

// Dialer opens the transport-specific connection to the helper.
type Dialer func(ctx context.Context) (net.Conn, error)

// UnixDialer returns a Dialer connecting to a Unix domain socket, the
// transport used on Linux and macOS.
func UnixDialer(socketPath string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
}

// Client is a framed-JSON client for the privileged helper. One call is in
// flight at a time; the helper's protocol is strictly request/response.
type Client struct {
	dial       Dialer
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewClient builds a Client. dialTimeout bounds each connection attempt; a
// new connection is established lazily on first Call and re-established if
// the prior one failed.
func NewClient(dial Dialer, dialTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &Client{dial: dial, dialTimeout: dialTimeout}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) ensureConn(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := c.dial(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// Call sends req and waits for the framed JSON response, honoring ctx's
// deadline for the whole round trip.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := conn.Write(payload); err != nil {
		c.dropConn()
		return nil, fmt.Errorf("ipc: write: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		c.dropConn()
		return nil, fmt.Errorf("ipc: read: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("ipc: decode response: %w", err)
	}
	if !resp.OK {
		return &resp, fmt.Errorf("ipc: helper returned error: %s", resp.Error)
	}
	return &resp, nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// StartCore requests the helper start the core with the given config file
// and core type.
func (c *Client) StartCore(ctx context.Context, configFile, coreType string) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindStartCore, ConfigFile: configFile, CoreType: coreType})
}

// StopCore requests the helper stop the running core.
func (c *Client) StopCore(ctx context.Context) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindStopCore})
}

// Status polls the helper for the core's current lifecycle state.
func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindStatus})
}

// Install requests the helper install itself as a privileged service.
func (c *Client) Install(ctx context.Context) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindInstall})
}

// Uninstall requests the helper remove itself.
func (c *Client) Uninstall(ctx context.Context) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindUninstall})
}

// Update requests the helper update the managed core binary.
func (c *Client) Update(ctx context.Context) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindUpdate})
}

// SetDns requests the helper apply the given DNS servers; an empty slice
// clears any override.
func (c *Client) SetDns(ctx context.Context, servers []string) (*Response, error) {
	return c.Call(ctx, Request{Kind: KindSetDns, Servers: servers})
}
