// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package proxy

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixupAndValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"none", Config{Type: "NONE"}, true},
		{"socks5", Config{Type: "socks5", Network: "tcp", Address: "127.0.0.1:1080"}, true},
		{"socks5 auth", Config{Type: "socks5", Network: "tcp", Address: "127.0.0.1:1080", User: "u", Password: "p"}, true},
		{"socks5 user only", Config{Type: "socks5", Network: "tcp", Address: "127.0.0.1:1080", User: "u"}, false},
		{"socks5 long user", Config{Type: "socks5", Network: "tcp", Address: "127.0.0.1:1080", User: strings.Repeat("u", 256), Password: "p"}, false},
		{"tor auth", Config{Type: "tor+socks5", Network: "tcp", Address: "127.0.0.1:9050", User: "u", Password: "p"}, false},
		{"hostname", Config{Type: "socks5", Network: "tcp", Address: "localhost:1080"}, false},
		{"bad network", Config{Type: "socks5", Network: "udp", Address: "127.0.0.1:1080"}, false},
		{"missing socket", Config{Type: "socks5", Network: "unix", Address: "/nonexistent/socks"}, false},
		{"bad type", Config{Type: "http"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			err := cfg.FixupAndValidate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}

	cfg := &Config{}
	require.NoError(t, cfg.FixupAndValidate())
	require.False(t, cfg.Enabled())
	require.Nil(t, cfg.ToDialContext("run"))
}

func TestTorIsolation(t *testing.T) {
	cfg := &Config{Type: "tor+socks5", Network: "tcp", Address: "127.0.0.1:9050"}
	require.NoError(t, cfg.FixupAndValidate())
	a1, a2 := cfg.socksAuth("a"), cfg.socksAuth("b")
	require.True(t, strings.HasPrefix(a1.User, torSocks5ProcessIsolation))
	require.NotEqual(t, a1.User, a2.User)
	require.Equal(t, a1.User, cfg.socksAuth("a").User)
}

// socksServer accepts one unauthenticated CONNECT and echoes the tunnelled
// stream back, returning the requested port on ch.
func socksServer(t *testing.T, l net.Listener, ch chan<- uint16) {
	conn, err := l.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	greeting := make([]byte, 3)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return
	}
	conn.Write([]byte{0x05, 0x00})

	req := make([]byte, 4+4+2)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	ch <- binary.BigEndian.Uint16(req[8:])
	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	io.Copy(conn, conn)
}

func TestDialSOCKS5(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	ch := make(chan uint16, 1)
	go socksServer(t, l, ch)

	cfg := &Config{Type: "socks5", Network: "tcp", Address: l.Addr().String()}
	require.NoError(t, cfg.FixupAndValidate())
	require.True(t, cfg.Enabled())
	dial := cfg.ToDialContext("run")
	require.NotNil(t, dial)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dial(ctx, "tcp", "10.1.2.3:5555")
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, uint16(5555), <-ch)

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}
