// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHelper is a minimal framed-JSON test double standing in for the
// privileged helper, used only from this package's tests.
func fakeHelper(t *testing.T, handle func(Request) Response) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "helper.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					line, err := reader.ReadBytes('\n')
					if err != nil {
						return
					}
					var req Request
					if err := json.Unmarshal(line, &req); err != nil {
						return
					}
					resp := handle(req)
					out, _ := json.Marshal(resp)
					out = append(out, '\n')
					if _, err := c.Write(out); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return socketPath
}

func TestClient_StartCoreRoundTrip(t *testing.T) {
	var received Request
	socketPath := fakeHelper(t, func(req Request) Response {
		received = req
		return Response{OK: true, Version: "1.2.3", CoreInfos: CoreInfo{State: "Running"}}
	})

	client := NewClient(UnixDialer(socketPath), time.Second)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := client.StartCore(ctx, "/etc/veilcore/run.yaml", "mihomo")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "Running", resp.CoreInfos.State)
	assert.Equal(t, KindStartCore, received.Kind)
	assert.Equal(t, "mihomo", received.CoreType)
}

func TestClient_ErrorResponseSurfacesAsError(t *testing.T) {
	socketPath := fakeHelper(t, func(Request) Response {
		return Response{OK: false, Error: "core already running"}
	})

	client := NewClient(UnixDialer(socketPath), time.Second)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.StopCore(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "core already running")
}

func TestClient_ReusesConnectionAcrossCalls(t *testing.T) {
	var calls int
	socketPath := fakeHelper(t, func(Request) Response {
		calls++
		return Response{OK: true}
	})

	client := NewClient(UnixDialer(socketPath), time.Second)
	defer client.Close()

	ctx := context.Background()
	var first net.Conn
	for i := 0; i < 3; i++ {
		c, cancel := context.WithTimeout(ctx, time.Second)
		_, err := client.Status(c)
		cancel()
		require.NoError(t, err)
		if i == 0 {
			first = client.conn
			require.NotNil(t, first)
		} else {
			assert.Same(t, first, client.conn)
		}
	}
	assert.Equal(t, 3, calls)
}
