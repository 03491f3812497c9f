// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nsclient/client"
	"github.com/katzenpost/nsclient/config"
	"github.com/katzenpost/nsclient/history"
	"github.com/katzenpost/nsclient/responder"
)

const testConfig = `
[Credentials]
  Password = "integration"

[Logging]
  Disable = true

[History]
  Path = %q

[Metrics]
  TextFile = %q

[Serve]
  Address = "tcp://127.0.0.1:0"
  Fault = %q

[Debug]
  DialTimeout = 5
  IOTimeout = 5
`

func writeConfig(t *testing.T, dir, fault string) string {
	path := filepath.Join(dir, "nsclient.toml")
	body := fmt.Sprintf(testConfig,
		filepath.Join(dir, "history.db"),
		filepath.Join(dir, "nsclient.prom"),
		fault,
	)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// startServe runs the serve command's responder and returns its URL.
func startServe(t *testing.T, cfgPath string) string {
	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, func(srv *responder.Server) {
			addrCh <- "tcp://" + srv.Addr().String()
		})
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case addr := <-addrCh:
		return addr
	case err := <-done:
		t.Fatalf("serve failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}
	return ""
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "none")
	addr := startServe(t, cfgPath)

	cfg, err := config.LoadFile(cfgPath, config.WithServerAddress(addr))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runOnce(context.Background(), cfg, &out))
	require.Contains(t, out.String(), "session key fingerprint")
	require.Contains(t, out.String(), "242 bytes sent, 200 bytes received")

	j, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	records, err := j.List(0)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.Len(t, records, 1)
	require.Equal(t, history.OutcomeSuccess, records[0].Outcome)
	require.Equal(t, "tcp", records[0].Transport)
	require.Equal(t, uint64(242), records[0].BytesSent)

	prom, err := os.ReadFile(cfg.Metrics.TextFile)
	require.NoError(t, err)
	require.Contains(t, string(prom), "nsclient_runs_total")

	var hist bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&hist)
	cmd.SetArgs([]string{"history", "-c", cfgPath})
	require.NoError(t, cmd.Execute())
	require.Contains(t, hist.String(), history.OutcomeSuccess)
	require.Contains(t, hist.String(), addr)
}

func TestRunOnceFailure(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "wrong-n1")
	addr := startServe(t, cfgPath)

	cfg, err := config.LoadFile(cfgPath, config.WithServerAddress(addr))
	require.NoError(t, err)

	err = runOnce(context.Background(), cfg, &bytes.Buffer{})
	require.ErrorIs(t, err, client.ErrProtocolViolation)

	j, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	defer j.Close()
	records, err := j.List(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, history.OutcomeFailure, records[0].Outcome)
	require.Equal(t, client.StateTicketResponse.String(), records[0].FailedState)
	require.NotEmpty(t, records[0].Error)
}

func TestRunOnceDialFailure(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "none")

	// Nothing listens on the discard port.
	cfg, err := config.LoadFile(cfgPath, config.WithServerAddress("tcp://127.0.0.1:9"))
	require.NoError(t, err)
	err = runOnce(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)

	j, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	defer j.Close()
	records, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, dialState, records[0].FailedState)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "log-level", "server"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	require.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)

	cmd.SetArgs([]string{"--server", "udp://127.0.0.1:1"})
	cmd.SetOut(&bytes.Buffer{})
	require.Error(t, cmd.Execute())

	cmd = newRootCommand()
	cmd.SetArgs([]string{"history"})
	cmd.SetOut(&bytes.Buffer{})
	require.ErrorContains(t, cmd.Execute(), "History.Path")
}
