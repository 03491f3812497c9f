// session.go - Wire protocol framing.
// Copyright (C) 2017  David Anthony Stainton, Yawning Angel
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

// Package wire implements the length prefixed message framing of the
// authentication protocol.
package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/nsclient/core/wire/commands"
	"github.com/katzenpost/nsclient/core/wire/constants"
)

const (
	stateOpen    uint32 = 0
	stateInvalid uint32 = 1
)

var (
	errInvalidState = errors.New("wire: connection in invalid state")
	errMsgSize      = errors.New("wire: invalid message size")
)

// Config is the configuration used to create a new Conn.
type Config struct {
	// IOTimeout, if non-zero, bounds every individual read and write.
	IOTimeout time.Duration

	// Log receives DEBUG traces of every header.  May be nil.
	Log *logging.Logger
}

// Conn frames protocol messages over a byte stream.  It is used by a
// single goroutine.
type Conn struct {
	conn net.Conn
	cfg  Config
	info *ConnectionInfo

	bytesSent     uint64
	bytesReceived uint64
	state         uint32
}

// NewConn wraps conn.  A nil cfg is equivalent to the zero Config.
func NewConn(conn net.Conn, cfg *Config) *Conn {
	c := &Conn{
		conn: conn,
		info: ExtractConnectionInfo(conn),
	}
	if cfg != nil {
		c.cfg = *cfg
	}
	return c
}

// EncodeHeader encodes a message header.
func EncodeHeader(payloadSize uint16, t commands.MessageType) []byte {
	h := &commands.Header{PayloadLength: payloadSize, Type: t}
	return h.ToBytes()
}

// DecodeHeader decodes a message header.
func DecodeHeader(b []byte) (*commands.Header, error) {
	return commands.HeaderFromBytes(b)
}

// ConnectionInfo returns the addressing details of the underlying
// connection.
func (c *Conn) ConnectionInfo() *ConnectionInfo {
	return c.info
}

// BytesSent returns the number of bytes written so far.
func (c *Conn) BytesSent() uint64 {
	return atomic.LoadUint64(&c.bytesSent)
}

// BytesReceived returns the number of bytes read so far.
func (c *Conn) BytesReceived() uint64 {
	return atomic.LoadUint64(&c.bytesReceived)
}

// Close closes the underlying connection.  It is safe to call more than
// once.
func (c *Conn) Close() error {
	atomic.StoreUint32(&c.state, stateInvalid)
	return c.conn.Close()
}

// SendHeader writes a message header.
func (c *Conn) SendHeader(payloadSize uint16, t commands.MessageType) error {
	if c.cfg.Log != nil {
		c.cfg.Log.Debugf("-> header type=%v length=%d", t, payloadSize)
	}
	return c.write(OpSendHeader, EncodeHeader(payloadSize, t))
}

// RecvHeader reads a message header.
func (c *Conn) RecvHeader() (*commands.Header, error) {
	b, err := c.read(OpRecvHeader, constants.HeaderLength)
	if err != nil {
		return nil, err
	}
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if c.cfg.Log != nil {
		c.cfg.Log.Debugf("<- header type=%v length=%d", h.Type, h.PayloadLength)
	}
	return h, nil
}

// Send writes a header announcing body followed by body.
func (c *Conn) Send(t commands.MessageType, body []byte) error {
	if len(body) > constants.MaxMsgLen {
		return fmt.Errorf("%w: %d byte %v body", errMsgSize, len(body), t)
	}
	if err := c.SendHeader(uint16(len(body)), t); err != nil {
		return err
	}
	return c.WriteExact(body)
}

// WriteExact writes all of b.
func (c *Conn) WriteExact(b []byte) error {
	return c.write(OpWrite, b)
}

// ReadExact reads exactly n bytes.
func (c *Conn) ReadExact(n int) ([]byte, error) {
	return c.read(OpRead, n)
}

// RecvPreamble reads the IV and declared length that precede a ciphertext.
func (c *Conn) RecvPreamble() (*commands.Preamble, error) {
	b, err := c.read(OpRecvPreamble, constants.PreambleLength)
	if err != nil {
		return nil, err
	}
	return commands.PreambleFromBytes(b)
}

// RecvSealed reads the body announced by hdr as a preamble and its block
// rounded ciphertext.  Bytes the header announces beyond the ciphertext are
// read and discarded.
func (c *Conn) RecvSealed(hdr *commands.Header) (*commands.Sealed, error) {
	payload := int(hdr.PayloadLength)
	if payload < constants.PreambleLength {
		return nil, &MessageSizeError{
			Message:      hdr.Type.String(),
			ActualSize:   payload,
			ExpectedSize: constants.PreambleLength,
		}
	}
	p, err := c.RecvPreamble()
	if err != nil {
		return nil, err
	}
	need := constants.PreambleLength + p.CiphertextLength()
	if payload < need {
		return nil, &MessageSizeError{
			Message:      hdr.Type.String(),
			ActualSize:   payload,
			ExpectedSize: need,
		}
	}
	ct, err := c.ReadExact(p.CiphertextLength())
	if err != nil {
		return nil, err
	}
	if excess := payload - need; excess > 0 {
		if c.cfg.Log != nil {
			c.cfg.Log.Debugf("discarding %d trailing bytes of %v", excess, hdr.Type)
		}
		if err := c.Discard(excess); err != nil {
			return nil, err
		}
	}
	return &commands.Sealed{Preamble: *p, Ciphertext: ct}, nil
}

// Discard reads and drops exactly n bytes.
func (c *Conn) Discard(n int) error {
	if err := c.prepare(OpDiscard); err != nil {
		return err
	}
	got, err := io.CopyN(io.Discard, c.conn, int64(n))
	atomic.AddUint64(&c.bytesReceived, uint64(got))
	if err != nil {
		return c.fail(OpDiscard, n, int(got), err)
	}
	return nil
}

func (c *Conn) prepare(op IOOp) error {
	if atomic.LoadUint32(&c.state) != stateOpen {
		return &IOError{Op: op, Err: errInvalidState, Connection: c.info}
	}
	if c.cfg.IOTimeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
			return c.fail(op, 0, 0, err)
		}
	}
	return nil
}

func (c *Conn) write(op IOOp, b []byte) error {
	if err := c.prepare(op); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	n, err := c.conn.Write(b)
	atomic.AddUint64(&c.bytesSent, uint64(n))
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return c.fail(op, len(b), n, err)
	}
	return nil
}

func (c *Conn) read(op IOOp, n int) ([]byte, error) {
	if err := c.prepare(op); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	got, err := io.ReadFull(c.conn, b)
	atomic.AddUint64(&c.bytesReceived, uint64(got))
	if err != nil {
		return nil, c.fail(op, n, got, err)
	}
	return b, nil
}

// fail invalidates the Conn.  All I/O errors are fatal.
func (c *Conn) fail(op IOOp, expected, actual int, err error) error {
	atomic.StoreUint32(&c.state, stateInvalid)
	return &IOError{
		Op:         op,
		Expected:   expected,
		Actual:     actual,
		Err:        err,
		Connection: c.info,
	}
}
