// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"

	"github.com/katzenpost/nsclient/core/crypto/cbc"
	"github.com/katzenpost/nsclient/core/nonce"
	"github.com/katzenpost/nsclient/core/wire"
	"github.com/katzenpost/nsclient/core/wire/commands"
	"github.com/katzenpost/nsclient/core/wire/constants"
	"github.com/katzenpost/nsclient/internal/instrument"
)

type step struct {
	state State
	fn    func(*Session, *wire.Conn) error
}

var steps = []step{
	{StateTicketRequest, (*Session).sendTicketRequest},
	{StateTicketResponse, (*Session).recvTicketResponse},
	{StateServerRequest, (*Session).sendServerRequest},
	{StateServiceResponse, (*Session).recvServiceResponse},
	{StateServiceAck, (*Session).sendServiceAck},
	{StateDataRequest, (*Session).recvDataRequest},
	{StateDataResponse, (*Session).sendDataResponse},
	{StateServerFinish, (*Session).recvServerFinish},
}

// send writes one message and counts it.
func (s *Session) send(c *wire.Conn, t commands.MessageType, body []byte) error {
	if err := c.Send(t, body); err != nil {
		return err
	}
	instrument.Message(uint16(t), true)
	return nil
}

// expect reads a header and checks its type.
func (s *Session) expect(c *wire.Conn, t commands.MessageType) (*commands.Header, error) {
	hdr, err := c.RecvHeader()
	if err != nil {
		return nil, err
	}
	instrument.Message(uint16(hdr.Type), false)
	if hdr.Type != t {
		return nil, violation("expected %v message, received %v", t, hdr.Type)
	}
	return hdr, nil
}

// open reads a sealed body announced by hdr and decrypts it with key.
func (s *Session) open(c *wire.Conn, hdr *commands.Header, key []byte) ([]byte, error) {
	sealed, err := c.RecvSealed(hdr)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("%v: declared length %d, %d ciphertext bytes", hdr.Type, sealed.DeclaredLength, len(sealed.Ciphertext))
	return cbc.Decrypt(key, sealed.IV[:], sealed.Ciphertext)
}

// seal encrypts plaintext with the session key under a fresh IV.
func (s *Session) seal(plaintext []byte) (nonce.IV, []byte, error) {
	iv, err := nonce.NewIV(s.cfg.RandomReader)
	if err != nil {
		return iv, nil, cipherFailure("failed to generate IV", err)
	}
	ct, err := cbc.Encrypt(s.sessionKey, iv[:], plaintext)
	return iv, ct, err
}

func (s *Session) sendTicketRequest(c *wire.Conn) error {
	var err error
	if s.n1, err = nonce.New(s.cfg.RandomReader); err != nil {
		return cipherFailure("failed to generate N1", err)
	}
	req := &commands.TicketRequest{
		Nonce:     s.n1,
		Initiator: s.cfg.Initiator,
		Responder: s.cfg.Responder,
	}
	body, err := req.ToBytes()
	if err != nil {
		return err
	}
	s.log.Debugf("N1 %v", s.n1)
	return s.send(c, commands.TicketRequestType, body)
}

func (s *Session) recvTicketResponse(c *wire.Conn) error {
	hdr, err := s.expect(c, commands.TicketResponseType)
	if err != nil {
		return err
	}

	masterKey, err := s.cfg.Deriver.DeriveKey(s.cfg.Password)
	if err != nil {
		return cipherFailure("failed to derive master key", err)
	}
	defer masterKey.Reset()

	pt, err := s.open(c, hdr, masterKey[:])
	if err != nil {
		return err
	}
	defer wipe(pt)

	grant, err := commands.TicketGrantFromBytes(pt)
	if err != nil {
		return err
	}
	if !grant.Nonce.Equal(s.n1) {
		return violation("ticket response echoes N1 %v, sent %v", grant.Nonce, s.n1)
	}
	if !bytes.HasPrefix(grant.Responder, s.cfg.Responder) {
		s.log.Warningf("Ticket response names responder %x", grant.Responder)
	}

	s.sessionKey = grant.SessionKey
	s.ticket = grant.Ticket
	s.log.Debugf("Session key %s, ticket of %d bytes", fingerprint(s.sessionKey), len(s.ticket))
	return nil
}

func (s *Session) sendServerRequest(c *wire.Conn) error {
	var err error
	if s.n2, err = nonce.New(s.cfg.RandomReader); err != nil {
		return cipherFailure("failed to generate N2", err)
	}
	iv, ct, err := s.seal(commands.NonceBlock(s.n2))
	if err != nil {
		return err
	}
	req := &commands.ServerRequest{
		Initiator:      s.cfg.Initiator,
		Responder:      s.cfg.Responder,
		Ticket:         s.ticket,
		IV:             iv,
		DeclaredLength: constants.NonceLength,
		Ciphertext:     ct,
	}
	body, err := req.ToBytes()
	if err != nil {
		return err
	}
	s.log.Debugf("N2 %v", s.n2)
	return s.send(c, commands.ServerRequestType, body)
}

func (s *Session) recvServiceResponse(c *wire.Conn) error {
	hdr, err := s.expect(c, commands.ServiceResponseType)
	if err != nil {
		return err
	}
	pt, err := s.open(c, hdr, s.sessionKey)
	if err != nil {
		return err
	}
	proof, err := commands.NonceProofFromBytes(pt)
	if err != nil {
		return err
	}
	if want := s.n2.Incr(); !proof.Reply.Equal(want) {
		return violation("service response answers %v, expected N2+1 %v", proof.Reply, want)
	}
	s.n3 = proof.Challenge
	s.log.Debugf("N3 %v", s.n3)
	return nil
}

func (s *Session) sendServiceAck(c *wire.Conn) error {
	iv, ct, err := s.seal(commands.NonceBlock(s.n3.Decr()))
	if err != nil {
		return err
	}
	ack := &commands.Sealed{
		Preamble:   commands.Preamble{IV: iv, DeclaredLength: constants.NonceLength},
		Ciphertext: ct,
	}
	return s.send(c, commands.ServiceAckType, ack.ToBytes())
}

func (s *Session) recvDataRequest(c *wire.Conn) error {
	hdr, err := s.expect(c, commands.DataRequestType)
	if err != nil {
		return err
	}
	pt, err := s.open(c, hdr, s.sessionKey)
	if err != nil {
		return err
	}
	s.request = pt
	s.log.Debugf("Data request of %d bytes", len(pt))
	return nil
}

func (s *Session) sendDataResponse(c *wire.Conn) error {
	s.response = commands.Obfuscate(s.request)
	iv, ct, err := s.seal(s.response)
	if err != nil {
		return err
	}
	return s.send(c, commands.DataResponseType, commands.NewSealed(iv, ct).ToBytes())
}

func (s *Session) recvServerFinish(c *wire.Conn) error {
	hdr, err := s.expect(c, commands.ServerFinishType)
	if err != nil {
		return err
	}
	return c.Discard(int(hdr.PayloadLength))
}
