// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport provides the byte streams the protocol runs over: a
// TCP connection, optionally through an upstream SOCKS5 proxy, or a single
// QUIC stream.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/katzenpost/nsclient/internal/proxy"
)

const (
	// SchemeTCP is a plain TCP connection.
	SchemeTCP = "tcp"

	// SchemeQUIC is a single bidirectional stream on a QUIC connection.
	SchemeQUIC = "quic"
)

var (
	// ErrUnsupportedScheme is returned for an unknown transport scheme.
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

	errProxyQUIC = errors.New("transport: upstream proxy can not carry quic")
)

// Config is the configuration used to dial the server.
type Config struct {
	// Scheme is SchemeTCP or SchemeQUIC.
	Scheme string

	// Address is the server's host:port.
	Address string

	// DialTimeout, if non-zero, bounds connection establishment.
	DialTimeout time.Duration

	// Proxy is the optional upstream proxy, tcp only.
	Proxy *proxy.Config

	// Tag selects the proxy circuit.
	Tag string

	// TLSConfig overrides the quic client TLS configuration.
	TLSConfig *tls.Config

	// InsecureSkipVerify disables quic server certificate verification.
	InsecureSkipVerify bool
}

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg *Config) (net.Conn, error) {
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	switch strings.ToLower(cfg.Scheme) {
	case SchemeTCP:
		if cfg.Proxy.Enabled() {
			return cfg.Proxy.ToDialContext(cfg.Tag)(ctx, "tcp", cfg.Address)
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", cfg.Address)
	case SchemeQUIC:
		if cfg.Proxy.Enabled() {
			return nil, errProxyQUIC
		}
		return dialQUIC(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: '%v'", ErrUnsupportedScheme, cfg.Scheme)
	}
}

func dialQUIC(ctx context.Context, cfg *Config) (net.Conn, error) {
	tlsConf := cfg.TLSConfig
	if tlsConf == nil {
		host, _, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return nil, err
		}
		tlsConf = ClientTLSConfig(host, cfg.InsecureSkipVerify)
	}
	conn, err := quic.DialAddr(ctx, cfg.Address, tlsConf, &quic.Config{KeepAlivePeriod: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}
	return NewQuicConn(conn, stream), nil
}

// Listen returns a listener for scheme on address.  A nil tlsConf selects
// a freshly generated self signed certificate for quic.
func Listen(scheme, address string, tlsConf *tls.Config) (net.Listener, error) {
	switch strings.ToLower(scheme) {
	case SchemeTCP:
		return net.Listen("tcp", address)
	case SchemeQUIC:
		if tlsConf == nil {
			var err error
			if tlsConf, err = GenerateTLSConfig(); err != nil {
				return nil, err
			}
		}
		l, err := quic.ListenAddr(address, tlsConf, nil)
		if err != nil {
			return nil, err
		}
		return &QuicListener{Listener: l}, nil
	default:
		return nil, fmt.Errorf("%w: '%v'", ErrUnsupportedScheme, scheme)
	}
}
