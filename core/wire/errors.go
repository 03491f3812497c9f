// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

var (
	// ErrConnectionClosed is matched by an IOError caused by the peer
	// going away before the expected number of bytes was transferred.
	ErrConnectionClosed = errors.New("wire: connection closed")

	// ErrTimeout is matched by an IOError caused by an expired I/O
	// deadline.
	ErrTimeout = errors.New("wire: i/o timeout")
)

// IOOp names the codec operation that failed.
type IOOp string

const (
	OpSendHeader   IOOp = "send_header"
	OpRecvHeader   IOOp = "recv_header"
	OpWrite        IOOp = "write"
	OpRead         IOOp = "read"
	OpRecvPreamble IOOp = "recv_preamble"
	OpDiscard      IOOp = "discard"
)

// ConnectionInfo provides detailed network connection information
type ConnectionInfo struct {
	Protocol   string // "tcp", "tcp4", "tcp6", "quic", "pipe", etc.
	LocalAddr  string // Local IP:port
	RemoteAddr string // Remote IP:port
	LocalIP    string // Local IP address only
	RemoteIP   string // Remote IP address only
	LocalPort  string // Local port only
	RemotePort string // Remote port only
}

// IOError is returned when the codec can not move the exact number of
// bytes it was asked to.  All IOErrors are fatal to the run.
type IOError struct {
	Op       IOOp
	Expected int
	Actual   int
	Err      error

	Connection *ConnectionInfo
}

// Error implements the error interface
func (e *IOError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "wire: %s failed", e.Op)
	if e.Connection != nil && e.Connection.RemoteAddr != "" {
		fmt.Fprintf(&b, " with peer %s (%s)", e.Connection.RemoteAddr, e.Connection.Protocol)
	}
	if e.Expected > 0 {
		fmt.Fprintf(&b, ": transferred %d of %d bytes", e.Actual, e.Expected)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is matches ErrConnectionClosed and ErrTimeout.
func (e *IOError) Is(target error) bool {
	switch target {
	case ErrConnectionClosed:
		return isClosed(e.Err)
	case ErrTimeout:
		return isTimeout(e.Err)
	}
	return false
}

// Verbose returns a detailed error message with all available information
func (e *IOError) Verbose() string {
	var b strings.Builder

	b.WriteString("=== WIRE I/O FAILURE ===\n")
	fmt.Fprintf(&b, "Operation: %s\n", e.Op)
	if e.Expected > 0 {
		fmt.Fprintf(&b, "Expected: %d bytes\n", e.Expected)
		fmt.Fprintf(&b, "Transferred: %d bytes\n", e.Actual)
	}
	switch {
	case isClosed(e.Err):
		b.WriteString("Cause: peer closed the connection\n")
	case isTimeout(e.Err):
		b.WriteString("Cause: i/o deadline expired\n")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "Underlying Error: %v\n", e.Err)
	}
	WriteConnectionInfo(&b, e.Connection)
	b.WriteString("=== END WIRE I/O FAILURE ===")
	return b.String()
}

// MessageSizeError is returned when a header announces a payload that can
// not hold the body that follows it.
type MessageSizeError struct {
	Message      string
	ActualSize   int
	ExpectedSize int
}

func (e *MessageSizeError) Error() string {
	return fmt.Sprintf("wire: %s size error: header announces %d bytes, body needs %d bytes",
		e.Message, e.ActualSize, e.ExpectedSize)
}

func (e *MessageSizeError) Verbose() string {
	var b strings.Builder
	b.WriteString("=== MESSAGE SIZE ERROR ===\n")
	fmt.Fprintf(&b, "Message: %s\n", e.Message)
	fmt.Fprintf(&b, "Announced Size: %d bytes\n", e.ActualSize)
	fmt.Fprintf(&b, "Required Size: %d bytes\n", e.ExpectedSize)
	b.WriteString("=== END MESSAGE SIZE ERROR ===")
	return b.String()
}

// VerboseError interface for errors that can provide detailed information
type VerboseError interface {
	error
	Verbose() string
}

// IsIOError checks if an error is, or wraps, an IOError
func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// IsMessageSizeError checks if an error is, or wraps, a MessageSizeError
func IsMessageSizeError(err error) bool {
	var e *MessageSizeError
	return errors.As(err, &e)
}

// GetVerboseError returns verbose error information if available
func GetVerboseError(err error) string {
	var ve VerboseError
	if errors.As(err, &ve) {
		return ve.Verbose()
	}
	return err.Error()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// WriteConnectionInfo appends the connection section used by every
// Verbose report.
func WriteConnectionInfo(b *strings.Builder, c *ConnectionInfo) {
	if c == nil {
		return
	}
	b.WriteString("\n--- CONNECTION INFORMATION ---\n")
	fmt.Fprintf(b, "Protocol: %s\n", c.Protocol)
	fmt.Fprintf(b, "Local Address: %s (%s:%s)\n", c.LocalAddr, c.LocalIP, c.LocalPort)
	fmt.Fprintf(b, "Remote Address: %s (%s:%s)\n", c.RemoteAddr, c.RemoteIP, c.RemotePort)
}

// ExtractConnectionInfo extracts detailed connection information from net.Conn
func ExtractConnectionInfo(conn net.Conn) *ConnectionInfo {
	if conn == nil {
		return nil
	}
	localAddr := conn.LocalAddr()
	remoteAddr := conn.RemoteAddr()
	if localAddr == nil || remoteAddr == nil {
		return nil
	}
	return buildConnectionInfo(localAddr.Network(), localAddr.String(), remoteAddr.String())
}

// buildConnectionInfo creates a ConnectionInfo from the basic address information
func buildConnectionInfo(protocol, localAddrStr, remoteAddrStr string) *ConnectionInfo {
	// Special case for pipe connections
	if protocol == "pipe" {
		return &ConnectionInfo{
			Protocol:   "pipe",
			LocalAddr:  "pipe",
			RemoteAddr: "pipe",
			LocalIP:    "pipe",
			RemoteIP:   "pipe",
		}
	}

	info := &ConnectionInfo{
		Protocol:   protocol,
		LocalAddr:  localAddrStr,
		RemoteAddr: remoteAddrStr,
	}
	if host, port, err := net.SplitHostPort(info.LocalAddr); err == nil {
		info.LocalIP = host
		info.LocalPort = port
	}
	if host, port, err := net.SplitHostPort(info.RemoteAddr); err == nil {
		info.RemoteIP = host
		info.RemotePort = port
	}
	return info
}
