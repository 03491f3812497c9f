// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/katzenpost/nsclient/core/crypto/cbc"
	"github.com/katzenpost/nsclient/core/wire"
	"github.com/katzenpost/nsclient/core/wire/commands"
)

var (
	// ErrIO is matched by a RunError caused by a short or broken read or
	// write, or a closed connection.
	ErrIO = errors.New("client: i/o error")

	// ErrCipher is matched by a RunError caused by the cipher engine, key
	// derivation or the entropy source.
	ErrCipher = errors.New("client: cipher error")

	// ErrProtocolViolation is matched by a RunError caused by a failed
	// freshness check, an unexpected message type or a malformed message.
	ErrProtocolViolation = errors.New("client: protocol violation")
)

// ErrorKind classifies a RunError.
type ErrorKind string

const (
	KindIO                ErrorKind = "IOError"
	KindCipher            ErrorKind = "CipherError"
	KindProtocolViolation ErrorKind = "ProtocolViolation"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindIO:
		return ErrIO
	case KindCipher:
		return ErrCipher
	default:
		return ErrProtocolViolation
	}
}

// RunError is the single failure a protocol run surfaces.  Every RunError
// is terminal.
type RunError struct {
	State   State
	Kind    ErrorKind
	Message string
	Err     error

	// Network information
	Connection *wire.ConnectionInfo

	BytesSent     uint64
	BytesReceived uint64
}

// Error implements the error interface
func (e *RunError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "client: run failed at %s (%s)", e.State, e.Kind)
	if e.Connection != nil && e.Connection.RemoteAddr != "" {
		fmt.Fprintf(&b, " with peer %s (%s)", e.Connection.RemoteAddr, e.Connection.Protocol)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, " (underlying error: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *RunError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Verbose returns a detailed error message with all available information
func (e *RunError) Verbose() string {
	var b strings.Builder

	b.WriteString("=== PROTOCOL RUN FAILURE ===\n")
	fmt.Fprintf(&b, "Step: %d (%s)\n", int(e.State), e.State)
	fmt.Fprintf(&b, "Kind: %s\n", e.Kind)
	fmt.Fprintf(&b, "Error Message: %s\n", e.Message)
	fmt.Fprintf(&b, "Bytes Sent: %d\n", e.BytesSent)
	fmt.Fprintf(&b, "Bytes Received: %d\n", e.BytesReceived)

	wire.WriteConnectionInfo(&b, e.Connection)

	if e.Err != nil {
		b.WriteString("\n--- UNDERLYING ERROR ---\n")
		b.WriteString(wire.GetVerboseError(e.Err))
		b.WriteString("\n")
	}

	b.WriteString("=== END PROTOCOL RUN FAILURE ===")
	return b.String()
}

// IsRunError checks if an error is, or wraps, a RunError
func IsRunError(err error) bool {
	var e *RunError
	return errors.As(err, &e)
}

// GetRunError returns the RunError if the error is, or wraps, one
func GetRunError(err error) (*RunError, bool) {
	var e *RunError
	ok := errors.As(err, &e)
	return e, ok
}

// stepError carries a kind decided by the step that failed.
type stepError struct {
	kind ErrorKind
	msg  string
	err  error
}

func (e *stepError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *stepError) Unwrap() error {
	return e.err
}

func violation(format string, a ...interface{}) error {
	return &stepError{kind: KindProtocolViolation, msg: fmt.Sprintf(format, a...)}
}

func cipherFailure(msg string, err error) error {
	return &stepError{kind: KindCipher, msg: msg, err: err}
}

// classify maps a step failure to its kind and a short description.
func classify(err error) (ErrorKind, string, error) {
	var se *stepError
	if errors.As(err, &se) {
		return se.kind, se.msg, se.err
	}

	var ioErr *wire.IOError
	var sizeErr *wire.MessageSizeError
	switch {
	case errors.As(err, &ioErr):
		return KindIO, fmt.Sprintf("%s failed", ioErr.Op), err
	case errors.As(err, &sizeErr):
		return KindProtocolViolation, "message too short for its contents", err
	case errors.Is(err, cbc.ErrCipher):
		return KindCipher, "cipher engine failure", err
	case errors.Is(err, commands.ErrInvalidMessage):
		return KindProtocolViolation, "malformed message", err
	default:
		return KindProtocolViolation, "unexpected failure", err
	}
}
