// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nsclient/core/wire"
	"github.com/katzenpost/nsclient/internal/proxy"
)

func echoOnce(t *testing.T, l net.Listener) {
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write(buf)
	}()
}

func roundTrip(t *testing.T, conn net.Conn) {
	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestDialTCP(t *testing.T) {
	l, err := Listen(SchemeTCP, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()
	echoOnce(t, l)

	conn, err := Dial(context.Background(), &Config{
		Scheme:      "TCP",
		Address:     l.Addr().String(),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer conn.Close()
	roundTrip(t, conn)
}

func TestDialQUIC(t *testing.T) {
	l, err := Listen(SchemeQUIC, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, SchemeQUIC, l.Addr().Network())
	echoOnce(t, l)

	conn, err := Dial(context.Background(), &Config{
		Scheme:             SchemeQUIC,
		Address:            l.Addr().String(),
		DialTimeout:        5 * time.Second,
		InsecureSkipVerify: true,
	})
	require.NoError(t, err)
	defer conn.Close()
	roundTrip(t, conn)

	info := wire.ExtractConnectionInfo(conn)
	require.Equal(t, SchemeQUIC, info.Protocol)
	require.Equal(t, "127.0.0.1", info.RemoteIP)
}

func TestDialErrors(t *testing.T) {
	_, err := Dial(context.Background(), &Config{Scheme: "udp", Address: "127.0.0.1:1"})
	require.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = Listen("udp", "127.0.0.1:0", nil)
	require.ErrorIs(t, err, ErrUnsupportedScheme)

	p := &proxy.Config{Type: "socks5", Network: "tcp", Address: "127.0.0.1:1080"}
	require.NoError(t, p.FixupAndValidate())
	_, err = Dial(context.Background(), &Config{Scheme: SchemeQUIC, Address: "127.0.0.1:1", Proxy: p})
	require.ErrorIs(t, err, errProxyQUIC)

	_, err = Dial(context.Background(), &Config{Scheme: SchemeQUIC, Address: "no-port"})
	require.Error(t, err)
}

func TestNewQuicConn(t *testing.T) {
	require.Panics(t, func() { NewQuicConn(nil, &quic.Stream{}) })
	require.Panics(t, func() { NewQuicConn(&quic.Conn{}, nil) })
}

func TestGenerateTLSConfig(t *testing.T) {
	cfg, err := GenerateTLSConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.NotEmpty(t, cfg.NextProtos)

	c := ClientTLSConfig("kds.example.net", false)
	require.Equal(t, "kds.example.net", c.ServerName)
	require.Equal(t, cfg.NextProtos, c.NextProtos)
}
