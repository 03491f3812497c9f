// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureAddrIPPort(t *testing.T) {
	require.NoError(t, EnsureAddrIPPort("127.0.0.1:9050"))
	require.NoError(t, EnsureAddrIPPort("[::1]:9050"))
	require.Error(t, EnsureAddrIPPort("localhost:9050"))
	require.Error(t, EnsureAddrIPPort("127.0.0.1"))
}

func TestEnsureAddrHostPort(t *testing.T) {
	require.NoError(t, EnsureAddrHostPort("localhost:5555"))
	require.NoError(t, EnsureAddrHostPort("10.0.0.1:5555"))
	require.Error(t, EnsureAddrHostPort(":5555"))
	require.Error(t, EnsureAddrHostPort("localhost:99999"))
	require.Error(t, EnsureAddrHostPort("localhost"))
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "history.db")
	require.False(t, Exists(f))
	require.NoError(t, EnsureParentDir(f))
	require.NoError(t, os.WriteFile(f, []byte("x"), 0600))
	require.True(t, Exists(f))
	require.Error(t, EnsureParentDir(filepath.Join(f, "nested")))
}
