// client.go - Needham-Schroeder initiator.
// Copyright (C) 2018  David Stainton.
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

// Package client implements the initiator side of the symmetric key
// authentication and key establishment protocol.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/nsclient/core/log"
	"github.com/katzenpost/nsclient/core/nonce"
	"github.com/katzenpost/nsclient/core/wire"
	"github.com/katzenpost/nsclient/core/wire/constants"
	"github.com/katzenpost/nsclient/internal/instrument"
	"github.com/katzenpost/nsclient/kdf"
)

var errSessionUsed = errors.New("client: session already used")

// Config is the configuration used to create a new Session.
type Config struct {
	// Password is the initiator's long term shared secret.
	Password []byte

	// Deriver turns Password into the master key.  Defaults to
	// HKDF-SHA256 with the default salt.
	Deriver kdf.Deriver

	// Initiator and Responder are the identity tags sent on the wire.
	// They default to the built in identities.
	Initiator []byte
	Responder []byte

	// RandomReader is the entropy source for nonces and IVs.  Defaults to
	// the hpqc system reader.
	RandomReader io.Reader

	// IOTimeout, if non-zero, bounds every individual read and write.
	// The protocol itself specifies no timeout.
	IOTimeout time.Duration

	// LogBackend is the logging backend.  Logging is disabled if nil.
	LogBackend *log.Backend
}

func (cfg *Config) validate() error {
	if len(cfg.Password) == 0 {
		return errors.New("client: missing Password")
	}
	if len(cfg.Initiator) != len(constants.InitiatorIdentity) {
		return fmt.Errorf("client: initiator identity must be %d bytes", len(constants.InitiatorIdentity))
	}
	if len(cfg.Responder) != len(constants.ResponderIdentity) {
		return fmt.Errorf("client: responder identity must be %d bytes", len(constants.ResponderIdentity))
	}
	return nil
}

// Result is what a completed run yields.
type Result struct {
	// SessionKeyFingerprint is the hash of the established session key.
	// The key itself does not outlive the run.
	SessionKeyFingerprint [hash.HashSize]byte

	// Request is the decrypted Data Request payload, block rounded.
	Request []byte

	// Response is the Data Response payload sent back.
	Response []byte

	BytesSent     uint64
	BytesReceived uint64
	Duration      time.Duration
	Connection    *wire.ConnectionInfo
}

// Session runs the protocol once over one connection.  It is not safe for
// concurrent use.
type Session struct {
	cfg Config
	log *logging.Logger

	state State

	n1 nonce.Nonce
	n2 nonce.Nonce
	n3 nonce.Nonce

	sessionKey []byte
	ticket     []byte
	request    []byte
	response   []byte

	conn *wire.Conn
}

// New creates a new Session.
func New(cfg *Config) (*Session, error) {
	s := &Session{cfg: *cfg}
	if s.cfg.Initiator == nil {
		s.cfg.Initiator = constants.InitiatorIdentity
	}
	if s.cfg.Responder == nil {
		s.cfg.Responder = constants.ResponderIdentity
	}
	if s.cfg.RandomReader == nil {
		s.cfg.RandomReader = rand.Reader
	}
	if s.cfg.Deriver == nil {
		d, err := kdf.ByName(kdf.HKDFSHA256, nil)
		if err != nil {
			return nil, err
		}
		s.cfg.Deriver = d
	}
	if err := s.cfg.validate(); err != nil {
		return nil, err
	}
	if s.cfg.LogBackend == nil {
		b, err := log.New("", "ERROR", true)
		if err != nil {
			return nil, err
		}
		s.cfg.LogBackend = b
	}
	s.log = s.cfg.LogBackend.GetLogger("client")
	return s, nil
}

// State returns the step the session is in, or failed in.
func (s *Session) State() State {
	return s.state
}

// HasSessionKey returns true iff a session key is live.
func (s *Session) HasSessionKey() bool {
	return s.sessionKey != nil
}

// Run drives every step of the protocol over conn, which it takes
// ownership of and closes.  A Session can only be run once.  Any failure
// is returned as a *RunError.
func (s *Session) Run(conn net.Conn) (*Result, error) {
	if s.state != StateInit || s.conn != nil {
		conn.Close()
		return nil, errSessionUsed
	}
	s.conn = wire.NewConn(conn, &wire.Config{
		IOTimeout: s.cfg.IOTimeout,
		Log:       s.cfg.LogBackend.GetLogger("wire"),
	})
	start := time.Now()
	s.log.Noticef("Starting protocol run with %v", remoteAddr(s.conn))

	for _, st := range steps {
		s.state = st.state
		s.log.Infof("Step %d: %v", int(st.state), st.state)
		if err := st.fn(s, s.conn); err != nil {
			rerr := s.newRunError(err)
			s.Close()
			s.log.Errorf("Protocol run aborted: %v", rerr)
			instrument.StepFailure(rerr.State.String(), string(rerr.Kind))
			instrument.WireBytes(rerr.BytesSent, rerr.BytesReceived)
			instrument.Run(instrument.OutcomeFailure, time.Since(start).Seconds())
			return nil, rerr
		}
	}
	s.state = StateDone

	r := &Result{
		SessionKeyFingerprint: hash.Sum256(s.sessionKey),
		Request:               s.request,
		Response:              s.response,
		BytesSent:             s.conn.BytesSent(),
		BytesReceived:         s.conn.BytesReceived(),
		Duration:              time.Since(start),
		Connection:            s.conn.ConnectionInfo(),
	}
	s.Close()
	s.log.Noticef("Protocol run complete in %v: session key %x", r.Duration, r.SessionKeyFingerprint[:8])
	instrument.WireBytes(r.BytesSent, r.BytesReceived)
	instrument.Run(instrument.OutcomeSuccess, r.Duration.Seconds())
	return r, nil
}

// Close wipes the session key and closes the connection.  It is safe to
// call more than once.
func (s *Session) Close() {
	wipe(s.sessionKey)
	s.sessionKey = nil
	wipe(s.ticket)
	s.ticket = nil
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) newRunError(err error) *RunError {
	kind, msg, cause := classify(err)
	return &RunError{
		State:         s.state,
		Kind:          kind,
		Message:       msg,
		Err:           cause,
		Connection:    s.conn.ConnectionInfo(),
		BytesSent:     s.conn.BytesSent(),
		BytesReceived: s.conn.BytesReceived(),
	}
}

func remoteAddr(c *wire.Conn) string {
	if info := c.ConnectionInfo(); info != nil {
		return info.RemoteAddr
	}
	return "unknown peer"
}

func fingerprint(k []byte) string {
	h := hash.Sum256(k)
	return fmt.Sprintf("%x", h[:8])
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
