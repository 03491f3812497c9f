// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package responder implements the server side of the protocol: the key
// distribution server and the service peer on one connection.  It backs the
// serve command and the end to end tests, and can be scripted to misbehave.
package responder

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/nsclient/core/crypto/cbc"
	"github.com/katzenpost/nsclient/core/log"
	"github.com/katzenpost/nsclient/core/nonce"
	"github.com/katzenpost/nsclient/core/wire"
	"github.com/katzenpost/nsclient/core/wire/commands"
	"github.com/katzenpost/nsclient/core/wire/constants"
	"github.com/katzenpost/nsclient/kdf"
)

// Fault scripts a deviation from the protocol.
type Fault int

const (
	// FaultNone follows the protocol.
	FaultNone Fault = iota

	// FaultWrongN1 echoes N1+1 in the ticket response.
	FaultWrongN1

	// FaultWrongN2Reply answers the challenge with N2 instead of N2+1.
	FaultWrongN2Reply

	// FaultTruncate closes the connection midway through the ticket
	// response body.
	FaultTruncate

	// FaultWrongType sends the ticket response with the wrong message type.
	FaultWrongType

	// FaultBadTicketLength announces a ticket that overruns the plaintext.
	FaultBadTicketLength

	// FaultStall stops responding after the service ack.
	FaultStall
)

var faultNames = map[Fault]string{
	FaultNone:            "none",
	FaultWrongN1:         "wrong-n1",
	FaultWrongN2Reply:    "wrong-n2-reply",
	FaultTruncate:        "truncate",
	FaultWrongType:       "wrong-type",
	FaultBadTicketLength: "bad-ticket-length",
	FaultStall:           "stall",
}

func (f Fault) String() string {
	if s, ok := faultNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Fault(%d)", int(f))
}

// FaultFromString parses a fault name.
func FaultFromString(s string) (Fault, error) {
	for f, name := range faultNames {
		if name == s {
			return f, nil
		}
	}
	return FaultNone, fmt.Errorf("responder: unknown fault '%v'", s)
}

// DefaultPayload is the Data Request payload when none is configured.
var DefaultPayload = []byte("NSDATA01")

var errPeerMisbehaved = errors.New("responder: initiator failed verification")

// Config is the configuration used to create a Responder.
type Config struct {
	// Password is the initiator's shared secret, known to the key
	// distribution server.
	Password []byte

	// Deriver turns Password into the initiator's master key.
	Deriver kdf.Deriver

	// ServiceKey is the responder's long term key the ticket is sealed
	// under.  Random if nil.
	ServiceKey []byte

	// SessionKey is the Kab handed out.  Random per connection if nil.
	SessionKey []byte

	// Payload is the Data Request payload.
	Payload []byte

	// FinishMessage is the body of the Server Finish message.
	FinishMessage []byte

	RandomReader io.Reader
	IOTimeout    time.Duration
	Fault        Fault
	LogBackend   *log.Backend
}

// Transcript records what the responder saw during one run.
type Transcript struct {
	Initiator  []byte
	N1         nonce.Nonce
	N2         nonce.Nonce
	N3         nonce.Nonce
	AckNonce   nonce.Nonce
	SessionKey []byte
	Ticket     []byte

	// Request is the block rounded Data Request plaintext.
	Request []byte

	// Response is the decrypted Data Response payload.
	Response         []byte
	ResponseIV       nonce.IV
	ResponseDeclared uint16
}

// Responder serves protocol runs.
type Responder struct {
	cfg Config
	log *logging.Logger
}

// New creates a Responder.
func New(cfg *Config) (*Responder, error) {
	r := &Responder{cfg: *cfg}
	if len(r.cfg.Password) == 0 {
		return nil, errors.New("responder: missing Password")
	}
	if r.cfg.RandomReader == nil {
		r.cfg.RandomReader = rand.Reader
	}
	if r.cfg.Deriver == nil {
		d, err := kdf.ByName(kdf.HKDFSHA256, nil)
		if err != nil {
			return nil, err
		}
		r.cfg.Deriver = d
	}
	if r.cfg.ServiceKey == nil {
		r.cfg.ServiceKey = make([]byte, constants.KeyLength)
		if _, err := io.ReadFull(r.cfg.RandomReader, r.cfg.ServiceKey); err != nil {
			return nil, err
		}
	}
	if len(r.cfg.ServiceKey) != constants.KeyLength {
		return nil, errors.New("responder: ServiceKey must be 16 bytes")
	}
	if r.cfg.SessionKey != nil && len(r.cfg.SessionKey) != constants.KeyLength {
		return nil, errors.New("responder: SessionKey must be 16 bytes")
	}
	if r.cfg.Payload == nil {
		r.cfg.Payload = DefaultPayload
	}
	if len(r.cfg.Payload) > constants.MaxMsgLen-constants.PreambleLength-constants.BlockLength {
		return nil, errors.New("responder: oversized Payload")
	}
	if r.cfg.FinishMessage == nil {
		r.cfg.FinishMessage = []byte("OK")
	}
	if r.cfg.LogBackend == nil {
		b, err := log.New("", "ERROR", true)
		if err != nil {
			return nil, err
		}
		r.cfg.LogBackend = b
	}
	r.log = r.cfg.LogBackend.GetLogger("responder")
	return r, nil
}

// Serve runs the server side of one protocol run over conn and closes it.
func (r *Responder) Serve(conn net.Conn) (*Transcript, error) {
	c := wire.NewConn(conn, &wire.Config{IOTimeout: r.cfg.IOTimeout})
	defer c.Close()

	t := new(Transcript)
	for _, fn := range []func(*wire.Conn, *Transcript) error{
		r.issueTicket,
		r.answerServerRequest,
		r.checkServiceAck,
		r.exchangeData,
	} {
		if err := fn(c, t); err != nil {
			r.log.Warningf("Run with %v aborted: %v", remote(c), err)
			return t, err
		}
	}
	if err := c.Send(commands.ServerFinishType, r.cfg.FinishMessage); err != nil {
		return t, err
	}
	r.log.Noticef("Run with %v complete", remote(c))
	return t, nil
}

func (r *Responder) recv(c *wire.Conn, want commands.MessageType) ([]byte, error) {
	hdr, err := c.RecvHeader()
	if err != nil {
		return nil, err
	}
	if hdr.Type != want {
		return nil, fmt.Errorf("%w: expected %v, received %v", errPeerMisbehaved, want, hdr.Type)
	}
	return c.ReadExact(int(hdr.PayloadLength))
}

func (r *Responder) seal(key, plaintext []byte, declared int) (*commands.Sealed, error) {
	iv, err := nonce.NewIV(r.cfg.RandomReader)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, nonce.RoundUp16(len(plaintext)))
	copy(padded, plaintext)
	ct, err := cbc.Encrypt(key, iv[:], padded)
	if err != nil {
		return nil, err
	}
	return &commands.Sealed{
		Preamble:   commands.Preamble{IV: iv, DeclaredLength: uint16(declared)},
		Ciphertext: ct,
	}, nil
}

func (r *Responder) openSealed(key, b []byte) (*commands.Preamble, []byte, error) {
	if len(b) < constants.PreambleLength {
		return nil, nil, fmt.Errorf("%w: %d byte sealed body", errPeerMisbehaved, len(b))
	}
	p, err := commands.PreambleFromBytes(b[:constants.PreambleLength])
	if err != nil {
		return nil, nil, err
	}
	ct := b[constants.PreambleLength:]
	if len(ct) != p.CiphertextLength() {
		return nil, nil, fmt.Errorf("%w: declared %d, carried %d ciphertext bytes", errPeerMisbehaved, p.DeclaredLength, len(ct))
	}
	pt, err := cbc.Decrypt(key, p.IV[:], ct)
	return p, pt, err
}

// makeTicket seals Kab and the initiator identity under the service key.
func (r *Responder) makeTicket(kab, initiator []byte) ([]byte, error) {
	iv, err := nonce.NewIV(r.cfg.RandomReader)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, constants.TicketLength-constants.TicketOverhead)
	copy(pt, kab)
	copy(pt[constants.KeyLength:], initiator)
	ct, err := cbc.Encrypt(r.cfg.ServiceKey, iv[:], pt)
	if err != nil {
		return nil, err
	}
	b := commands.TicketLayout.NewBuffer()
	for _, err := range []error{
		b.Put(commands.FieldIV, iv[:]),
		b.PutUint16(commands.FieldTicketLength, uint16(len(ct))),
		b.Put(commands.FieldCiphertext, ct),
	} {
		if err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// openTicket recovers Kab and the initiator identity from a ticket.
func (r *Responder) openTicket(ticket []byte) ([]byte, []byte, error) {
	iv, err := commands.TicketLayout.Get(ticket, commands.FieldIV)
	if err != nil {
		return nil, nil, err
	}
	ct, err := commands.TicketLayout.Get(ticket, commands.FieldCiphertext)
	if err != nil {
		return nil, nil, err
	}
	pt, err := cbc.Decrypt(r.cfg.ServiceKey, iv, ct)
	if err != nil {
		return nil, nil, err
	}
	return pt[:constants.KeyLength], pt[constants.KeyLength:], nil
}

func (r *Responder) issueTicket(c *wire.Conn, t *Transcript) error {
	b, err := r.recv(c, commands.TicketRequestType)
	if err != nil {
		return err
	}
	req, err := commands.TicketRequestFromBytes(b)
	if err != nil {
		return err
	}
	t.N1 = req.Nonce
	t.Initiator = req.Initiator

	t.SessionKey = make([]byte, constants.KeyLength)
	if r.cfg.SessionKey != nil {
		copy(t.SessionKey, r.cfg.SessionKey)
	} else if _, err := io.ReadFull(r.cfg.RandomReader, t.SessionKey); err != nil {
		return err
	}
	if t.Ticket, err = r.makeTicket(t.SessionKey, req.Initiator); err != nil {
		return err
	}

	echo := t.N1
	if r.cfg.Fault == FaultWrongN1 {
		echo = echo.Incr()
	}
	grant := &commands.TicketGrant{
		Nonce:      echo,
		Responder:  req.Responder,
		SessionKey: t.SessionKey,
		Ticket:     t.Ticket,
	}
	pt, err := grant.ToBytes()
	if err != nil {
		return err
	}
	if r.cfg.Fault == FaultBadTicketLength {
		pt[58], pt[59] = 0x00, 0xff
	}

	masterKey, err := r.cfg.Deriver.DeriveKey(r.cfg.Password)
	if err != nil {
		return err
	}
	defer masterKey.Reset()
	sealed, err := r.seal(masterKey[:], pt, len(pt))
	if err != nil {
		return err
	}
	body := sealed.ToBytes()

	switch r.cfg.Fault {
	case FaultTruncate:
		if err := c.SendHeader(uint16(len(body)), commands.TicketResponseType); err != nil {
			return err
		}
		if err := c.WriteExact(body[:len(body)/2]); err != nil {
			return err
		}
		return fmt.Errorf("responder: scripted %v", r.cfg.Fault)
	case FaultWrongType:
		return c.Send(commands.ServiceResponseType, body)
	}
	return c.Send(commands.TicketResponseType, body)
}

func (r *Responder) answerServerRequest(c *wire.Conn, t *Transcript) error {
	b, err := r.recv(c, commands.ServerRequestType)
	if err != nil {
		return err
	}
	req, err := commands.ServerRequestFromBytes(b)
	if err != nil {
		return err
	}
	kab, initiator, err := r.openTicket(req.Ticket)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(kab, t.SessionKey) != 1 {
		return fmt.Errorf("%w: ticket does not carry the issued session key", errPeerMisbehaved)
	}
	if !bytes.HasPrefix(initiator, t.Initiator) || !bytes.HasPrefix(req.Initiator, t.Initiator) {
		return fmt.Errorf("%w: initiator identity mismatch", errPeerMisbehaved)
	}
	pt, err := cbc.Decrypt(kab, req.IV[:], req.Ciphertext)
	if err != nil {
		return err
	}
	if t.N2, err = commands.NonceFromBlock(pt); err != nil {
		return err
	}
	if t.N3, err = nonce.New(r.cfg.RandomReader); err != nil {
		return err
	}

	reply := t.N2.Incr()
	if r.cfg.Fault == FaultWrongN2Reply {
		reply = t.N2
	}
	proof := &commands.NonceProof{Reply: reply, Challenge: t.N3}
	sealed, err := r.seal(kab, proof.ToBytes(), constants.BlockLength)
	if err != nil {
		return err
	}
	return c.Send(commands.ServiceResponseType, sealed.ToBytes())
}

func (r *Responder) checkServiceAck(c *wire.Conn, t *Transcript) error {
	b, err := r.recv(c, commands.ServiceAckType)
	if err != nil {
		return err
	}
	_, pt, err := r.openSealed(t.SessionKey, b)
	if err != nil {
		return err
	}
	if t.AckNonce, err = commands.NonceFromBlock(pt); err != nil {
		return err
	}
	if !t.AckNonce.Equal(t.N3.Decr()) {
		return fmt.Errorf("%w: service ack carries %v, expected N3-1", errPeerMisbehaved, t.AckNonce)
	}
	if r.cfg.Fault == FaultStall {
		// Hold the connection open until the initiator gives up.
		_, err := c.ReadExact(1)
		return fmt.Errorf("responder: scripted %v: %v", r.cfg.Fault, err)
	}
	return nil
}

func (r *Responder) exchangeData(c *wire.Conn, t *Transcript) error {
	sealed, err := r.seal(t.SessionKey, r.cfg.Payload, len(r.cfg.Payload))
	if err != nil {
		return err
	}
	t.Request = make([]byte, len(sealed.Ciphertext))
	copy(t.Request, r.cfg.Payload)
	if err := c.Send(commands.DataRequestType, sealed.ToBytes()); err != nil {
		return err
	}

	b, err := r.recv(c, commands.DataResponseType)
	if err != nil {
		return err
	}
	p, pt, err := r.openSealed(t.SessionKey, b)
	if err != nil {
		return err
	}
	t.ResponseIV = p.IV
	t.ResponseDeclared = p.DeclaredLength
	t.Response = pt
	if !bytes.Equal(commands.Obfuscate(pt), t.Request) {
		return fmt.Errorf("%w: data response is not the obfuscated request", errPeerMisbehaved)
	}
	return nil
}

func remote(c *wire.Conn) string {
	if info := c.ConnectionInfo(); info != nil {
		return info.RemoteAddr
	}
	return "unknown peer"
}
