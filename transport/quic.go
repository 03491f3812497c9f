// quic.go - QUIC stream as a net.Conn.
// Copyright (C) 2023  Masala.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// lingerTimeout bounds how long a closed QuicConn waits for the peer to
// finish reading before the connection is torn down.
const lingerTimeout = 5 * time.Second

// quicAddr reports "quic" as its network so connection diagnostics name
// the transport rather than the datagram socket under it.
type quicAddr struct {
	net.Addr
}

func (a quicAddr) Network() string {
	return SchemeQUIC
}

// QuicConn wraps a conn and a single stream and implements net.Conn
type QuicConn struct {
	Stream *quic.Stream
	Conn   *quic.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewQuicConn returns a QuicConn for stream on conn.  It panics if either is
// nil.
func NewQuicConn(conn *quic.Conn, stream *quic.Stream) *QuicConn {
	if conn == nil {
		panic("transport: nil quic connection")
	}
	if stream == nil {
		panic("transport: nil quic stream")
	}
	return &QuicConn{Conn: conn, Stream: stream}
}

// LocalAddr implements net.Conn
func (q *QuicConn) LocalAddr() net.Addr {
	return quicAddr{q.Conn.LocalAddr()}
}

// RemoteAddr implements net.Conn
func (q *QuicConn) RemoteAddr() net.Addr {
	return quicAddr{q.Conn.RemoteAddr()}
}

// SetDeadline implements net.Conn
func (q *QuicConn) SetDeadline(t time.Time) error {
	return q.Stream.SetDeadline(t)
}

// SetReadDeadline implements net.Conn
func (q *QuicConn) SetReadDeadline(t time.Time) error {
	return q.Stream.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn
func (q *QuicConn) SetWriteDeadline(t time.Time) error {
	return q.Stream.SetWriteDeadline(t)
}

// Close implements net.Conn.  The stream is closed at once; the connection
// is torn down when the peer closes it or after lingerTimeout, so data
// already written still reaches the peer.
func (q *QuicConn) Close() error {
	q.closeOnce.Do(func() {
		q.closeErr = q.Stream.Close()
		go func() {
			select {
			case <-q.Conn.Context().Done():
			case <-time.After(lingerTimeout):
			}
			q.Conn.CloseWithError(0, "")
		}()
	})
	return q.closeErr
}

// Read implements net.Conn
func (q *QuicConn) Read(b []byte) (n int, err error) {
	return q.Stream.Read(b)
}

// Write implements net.Conn
func (q *QuicConn) Write(b []byte) (n int, err error) {
	return q.Stream.Write(b)
}

// QuicListener implements net.Listener
type QuicListener struct {
	Listener *quic.Listener
}

// Accept implements net.Listener. It accepts a single QUIC Stream and returns
// a QuicConn that implements net.Conn for this single Stream.  The stream
// is only visible once the peer has written to it.
func (l *QuicListener) Accept() (net.Conn, error) {
	ctx := context.Background()
	conn, err := l.Listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}
	return NewQuicConn(conn, stream), nil
}

// Addr implements net.Listener
func (l *QuicListener) Addr() net.Addr {
	return quicAddr{l.Listener.Addr()}
}

// Close implements net.Listener
func (l *QuicListener) Close() error {
	return l.Listener.Close()
}

// GenerateTLSConfig returns a bare-bones server TLS config with a fresh
// self signed certificate.
func GenerateTLSConfig() (*tls.Config, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, pubKey, privKey)
	if err != nil {
		return nil, err
	}
	pkb, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkb})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	// ALPN (NextProtos) is externally visible in the client/server hello,
	// so pick a common protocol rather than something fingerprintable.
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}, NextProtos: []string{http3.NextProtoH3}}, nil
}

// ClientTLSConfig returns the TLS config used to dial serverName.
func ClientTLSConfig(serverName string, insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		NextProtos:         []string{http3.NextProtoH3},
	}
}
