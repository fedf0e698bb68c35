// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmesh/veilcore/internal/ipc"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func regenerateStub(t *testing.T, dir string) RegenerateConfig {
	t.Helper()
	runFile := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(runFile, []byte("mixed-port: 7890\n"), 0o644))
	return func(context.Context) (string, error) { return runFile, nil }
}

func TestSupervisor_DirectMode_StartDrainsOutputAndStop(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "core", `echo "listening on :7890"
trap 'exit 0' TERM INT
while true; do sleep 0.1; done
`)

	sup, err := New(Config{
		Mode:        ModeDirect,
		BinaryName:  "core",
		SearchDirs:  []string{dir},
		DataDir:     dir,
		PIDFilePath: filepath.Join(dir, "core.pid"),
		CoreType:    "mihomo",
		Regenerate:  regenerateStub(t, dir),
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, sup.Start(ctx))
	assert.Equal(t, StateRunning, sup.Status().State)

	deadline := time.Now().Add(time.Second)
	var found bool
	for time.Now().Before(deadline) {
		for _, line := range sup.RecentLogs() {
			if line == "listening on :7890" {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, found, "expected drained stdout line in log ring")

	require.NoError(t, sup.Stop(ctx))
	assert.Equal(t, StateStopped, sup.Status().State)
}

func TestSupervisor_CheckConfig_ParsesErrorMarker(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "core", `if [ "$1" = "-t" ]; then
  echo "configuration file invalid: bad syntax"
  exit 1
fi
`)

	sup, err := New(Config{
		Mode:       ModeDirect,
		BinaryName: "core",
		SearchDirs: []string{dir},
		DataDir:    dir,
		CoreType:   "mihomo",
		Regenerate: regenerateStub(t, dir),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	msg, err := sup.CheckConfig(context.Background())
	require.Error(t, err)
	assert.Equal(t, "invalid: bad syntax", msg)
}

// fakeHelper stands in for the privileged helper over a unix socket.
func fakeHelper(t *testing.T, handle func(ipc.Request) ipc.Response) string {
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
					var req ipc.Request
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

func TestSupervisor_ServiceMode_StartStopDelegatesToHelper(t *testing.T) {
	var kinds []ipc.RequestKind
	socketPath := fakeHelper(t, func(req ipc.Request) ipc.Response {
		kinds = append(kinds, req.Kind)
		return ipc.Response{OK: true}
	})

	client := ipc.NewClient(ipc.UnixDialer(socketPath), time.Second)
	defer client.Close()

	dir := t.TempDir()
	sup, err := New(Config{
		Mode:       ModeService,
		IPCClient:  client,
		CoreType:   "mihomo",
		Regenerate: regenerateStub(t, dir),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sup.Start(ctx))
	require.NoError(t, sup.Stop(ctx))

	assert.Equal(t, []ipc.RequestKind{ipc.KindStartCore, ipc.KindStopCore}, kinds)
}
