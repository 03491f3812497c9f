// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

// Wire protocol commands.
package commands

import (
	"errors"
	"fmt"

	"github.com/katzenpost/nsclient/core/nonce"
	"github.com/katzenpost/nsclient/core/wire/constants"
)

// ErrInvalidMessage is returned when a message body can not be decoded.
var ErrInvalidMessage = errors.New("commands: invalid message")

var (
	// HeaderLayout is the message header.
	HeaderLayout = &Layout{
		Name: "Header",
		Size: constants.HeaderLength,
		Fields: []Field{
			{FieldPayloadLength, 0, 2},
			{FieldType, 2, 2},
		},
	}

	// TicketRequestLayout is the body of message 1.
	TicketRequestLayout = &Layout{
		Name: "TicketRequest",
		Size: ticketRequestLength,
		Fields: []Field{
			{FieldNonce, 0, constants.NonceLength},
			{FieldInitiator, 8, len(constants.InitiatorIdentity)},
			{FieldResponder, 14, len(constants.ResponderIdentity)},
			{FieldReserved, 18, 22},
		},
	}

	// PreambleLayout precedes every variable length ciphertext.
	PreambleLayout = &Layout{
		Name: "Preamble",
		Size: constants.PreambleLength,
		Fields: []Field{
			{FieldIV, 0, constants.IVLength},
			{FieldDeclaredLength, constants.IVLength, constants.DeclaredLengthLength},
		},
	}

	// TicketGrantLayout is the fixed prefix of the decrypted body of
	// message 2.  The ticket itself starts at the ticket_iv field and is
	// ticket_length + TicketOverhead bytes long.
	TicketGrantLayout = &Layout{
		Name: "TicketGrant",
		Size: ticketGrantMinLength,
		Fields: []Field{
			{FieldNonce, 0, constants.NonceLength},
			{FieldResponder, 8, constants.IdentityFieldLength},
			{FieldSessionKey, 24, constants.KeyLength},
			{FieldTicketIV, ticketOffset, constants.IVLength},
			{FieldTicketReserved, ticketOffset + 16, 2},
			{FieldTicketLength, ticketOffset + 18, 2},
		},
	}

	// TicketLayout is the ticket as issued by the key distribution server:
	// the session key and initiator identity sealed under the responder's
	// key.  The initiator never looks inside it.
	TicketLayout = &Layout{
		Name: "Ticket",
		Size: constants.TicketLength,
		Fields: []Field{
			{FieldIV, 0, constants.IVLength},
			{FieldReserved, 16, 2},
			{FieldTicketLength, 18, 2},
			{FieldCiphertext, constants.TicketOverhead, ticketCiphertextBlock},
		},
	}

	// ServerRequestLayout is the body of message 3.
	ServerRequestLayout = &Layout{
		Name: "ServerRequest",
		Size: serverRequestLength,
		Fields: []Field{
			{FieldInitiator, 0, constants.IdentityFieldLength},
			{FieldResponder, 16, constants.IdentityFieldLength},
			{FieldTicket, 32, constants.TicketLength},
			{FieldIV, 84, constants.IVLength},
			{FieldDeclaredLength, 100, constants.DeclaredLengthLength},
			{FieldCiphertext, 102, constants.BlockLength},
		},
	}

	// NonceProofLayout is the decrypted body of message 4.
	NonceProofLayout = &Layout{
		Name: "NonceProof",
		Size: nonceProofLength,
		Fields: []Field{
			{FieldNonceReply, 0, constants.NonceLength},
			{FieldNonceChallenge, 8, constants.NonceLength},
		},
	}

	// NonceBlockLayout is a single nonce padded to one cipher block.
	NonceBlockLayout = &Layout{
		Name: "NonceBlock",
		Size: nonceBlockLength,
		Fields: []Field{
			{FieldNonce, 0, constants.NonceLength},
			{FieldPadding, 8, constants.BlockLength - constants.NonceLength},
		},
	}

	// Layouts lists every fixed layout.
	Layouts = []*Layout{
		HeaderLayout,
		TicketRequestLayout,
		PreambleLayout,
		TicketGrantLayout,
		TicketLayout,
		ServerRequestLayout,
		NonceProofLayout,
		NonceBlockLayout,
	}
)

func init() {
	for _, l := range Layouts {
		if err := l.Validate(); err != nil {
			panic(err)
		}
	}
}

func invalid(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, a...))
}

// Header is the four byte message header.
type Header struct {
	PayloadLength uint16
	Type          MessageType
}

// ToBytes serializes the Header and returns the resulting slice.
func (h *Header) ToBytes() []byte {
	b, err := fill(HeaderLayout,
		putUint16(FieldPayloadLength, h.PayloadLength),
		putUint16(FieldType, uint16(h.Type)),
	)
	if err != nil {
		panic(err)
	}
	return b
}

// HeaderFromBytes decodes a Header.
func HeaderFromBytes(b []byte) (*Header, error) {
	if len(b) != HeaderLayout.Size {
		return nil, invalid("header is %d bytes", len(b))
	}
	l, err := HeaderLayout.Uint16(b, FieldPayloadLength)
	if err != nil {
		return nil, err
	}
	t, err := HeaderLayout.Uint16(b, FieldType)
	if err != nil {
		return nil, err
	}
	return &Header{PayloadLength: l, Type: MessageType(t)}, nil
}

// TicketRequest is message 1: the initiator asks the key distribution
// server for a ticket to the responder.
type TicketRequest struct {
	Nonce     nonce.Nonce
	Initiator []byte
	Responder []byte
}

// ToBytes serializes the TicketRequest and returns the resulting slice.
func (c *TicketRequest) ToBytes() ([]byte, error) {
	return fill(TicketRequestLayout,
		putUint64(FieldNonce, uint64(c.Nonce)),
		put(FieldInitiator, c.Initiator),
		put(FieldResponder, c.Responder),
	)
}

// TicketRequestFromBytes decodes a TicketRequest.
func TicketRequestFromBytes(b []byte) (*TicketRequest, error) {
	if len(b) != TicketRequestLayout.Size {
		return nil, invalid("ticket request is %d bytes", len(b))
	}
	c := new(TicketRequest)
	n, err := TicketRequestLayout.Uint64(b, FieldNonce)
	if err != nil {
		return nil, err
	}
	c.Nonce = nonce.Nonce(n)
	if c.Initiator, err = getCopy(TicketRequestLayout, b, FieldInitiator); err != nil {
		return nil, err
	}
	if c.Responder, err = getCopy(TicketRequestLayout, b, FieldResponder); err != nil {
		return nil, err
	}
	return c, nil
}

// Preamble is the IV and declared plaintext length that precede a
// ciphertext.
type Preamble struct {
	IV             nonce.IV
	DeclaredLength uint16
}

// CiphertextLength is the number of ciphertext bytes that follow the
// preamble: the declared length rounded up to a whole block.
func (p *Preamble) CiphertextLength() int {
	return nonce.RoundUp16(int(p.DeclaredLength))
}

// ToBytes serializes the Preamble and returns the resulting slice.
func (p *Preamble) ToBytes() []byte {
	b, err := fill(PreambleLayout,
		put(FieldIV, p.IV[:]),
		putUint16(FieldDeclaredLength, p.DeclaredLength),
	)
	if err != nil {
		panic(err)
	}
	return b
}

// PreambleFromBytes decodes a Preamble.
func PreambleFromBytes(b []byte) (*Preamble, error) {
	if len(b) != PreambleLayout.Size {
		return nil, invalid("preamble is %d bytes", len(b))
	}
	p := new(Preamble)
	iv, err := PreambleLayout.Get(b, FieldIV)
	if err != nil {
		return nil, err
	}
	copy(p.IV[:], iv)
	if p.DeclaredLength, err = PreambleLayout.Uint16(b, FieldDeclaredLength); err != nil {
		return nil, err
	}
	return p, nil
}

// Sealed is a preamble followed by its ciphertext.  Messages 2, 4, 5, 6
// and 7 are all carried this way.
type Sealed struct {
	Preamble
	Ciphertext []byte
}

// NewSealed returns a Sealed whose declared length is the ciphertext
// length.
func NewSealed(iv nonce.IV, ciphertext []byte) *Sealed {
	return &Sealed{
		Preamble:   Preamble{IV: iv, DeclaredLength: uint16(len(ciphertext))},
		Ciphertext: ciphertext,
	}
}

// Length is the encoded length of the Sealed.
func (s *Sealed) Length() int {
	return constants.PreambleLength + len(s.Ciphertext)
}

// ToBytes serializes the Sealed and returns the resulting slice.
func (s *Sealed) ToBytes() []byte {
	out := make([]byte, 0, s.Length())
	out = append(out, s.Preamble.ToBytes()...)
	return append(out, s.Ciphertext...)
}

// TicketGrant is the decrypted body of message 2.
type TicketGrant struct {
	Nonce      nonce.Nonce
	Responder  []byte
	SessionKey []byte
	Ticket     []byte
}

// ToBytes serializes the TicketGrant and returns the resulting slice.  The
// result is not padded to a block boundary.
func (c *TicketGrant) ToBytes() ([]byte, error) {
	if len(c.Ticket) < constants.TicketOverhead {
		return nil, invalid("ticket is %d bytes", len(c.Ticket))
	}
	ticketLen, err := TicketLayout.Uint16(c.Ticket, FieldTicketLength)
	if err != nil {
		return nil, err
	}
	if int(ticketLen)+constants.TicketOverhead != len(c.Ticket) {
		return nil, invalid("ticket length field %d disagrees with ticket of %d bytes", ticketLen, len(c.Ticket))
	}
	prefix, err := fill(TicketGrantLayout,
		putUint64(FieldNonce, uint64(c.Nonce)),
		put(FieldResponder, c.Responder),
		put(FieldSessionKey, c.SessionKey),
	)
	if err != nil {
		return nil, err
	}
	out := make([]byte, ticketOffset+len(c.Ticket))
	copy(out, prefix[:ticketOffset])
	copy(out[ticketOffset:], c.Ticket)
	return out, nil
}

// TicketGrantFromBytes decodes a decrypted ticket response.  The ticket
// must fit inside b and be exactly the size of the Server Request's ticket
// slot.
func TicketGrantFromBytes(b []byte) (*TicketGrant, error) {
	if len(b) < TicketGrantLayout.Size {
		return nil, invalid("ticket response plaintext is %d bytes", len(b))
	}
	c := new(TicketGrant)
	n, err := TicketGrantLayout.Uint64(b, FieldNonce)
	if err != nil {
		return nil, err
	}
	c.Nonce = nonce.Nonce(n)
	if c.Responder, err = getCopy(TicketGrantLayout, b, FieldResponder); err != nil {
		return nil, err
	}
	if c.SessionKey, err = getCopy(TicketGrantLayout, b, FieldSessionKey); err != nil {
		return nil, err
	}
	ticketLen, err := TicketGrantLayout.Uint16(b, FieldTicketLength)
	if err != nil {
		return nil, err
	}
	start := ticketOffset
	end := start + int(ticketLen) + constants.TicketOverhead
	if end > len(b) {
		return nil, invalid("ticket [%d:%d] exceeds plaintext of %d bytes", start, end, len(b))
	}
	if end-start != constants.TicketLength {
		return nil, invalid("ticket is %d bytes, need %d", end-start, constants.TicketLength)
	}
	c.Ticket = make([]byte, end-start)
	copy(c.Ticket, b[start:end])
	return c, nil
}

// ServerRequest is message 3: the ticket forwarded to the responder along
// with a challenge sealed under the session key.
type ServerRequest struct {
	Initiator      []byte
	Responder      []byte
	Ticket         []byte
	IV             nonce.IV
	DeclaredLength uint16
	Ciphertext     []byte
}

// ToBytes serializes the ServerRequest and returns the resulting slice.
func (c *ServerRequest) ToBytes() ([]byte, error) {
	if len(c.Ticket) != constants.TicketLength {
		return nil, invalid("ticket is %d bytes", len(c.Ticket))
	}
	if len(c.Ciphertext) != constants.BlockLength {
		return nil, invalid("challenge ciphertext is %d bytes", len(c.Ciphertext))
	}
	return fill(ServerRequestLayout,
		put(FieldInitiator, c.Initiator),
		put(FieldResponder, c.Responder),
		put(FieldTicket, c.Ticket),
		put(FieldIV, c.IV[:]),
		putUint16(FieldDeclaredLength, c.DeclaredLength),
		put(FieldCiphertext, c.Ciphertext),
	)
}

// ServerRequestFromBytes decodes a ServerRequest.
func ServerRequestFromBytes(b []byte) (*ServerRequest, error) {
	if len(b) != ServerRequestLayout.Size {
		return nil, invalid("server request is %d bytes", len(b))
	}
	c := new(ServerRequest)
	var err error
	if c.Initiator, err = getCopy(ServerRequestLayout, b, FieldInitiator); err != nil {
		return nil, err
	}
	if c.Responder, err = getCopy(ServerRequestLayout, b, FieldResponder); err != nil {
		return nil, err
	}
	if c.Ticket, err = getCopy(ServerRequestLayout, b, FieldTicket); err != nil {
		return nil, err
	}
	iv, err := ServerRequestLayout.Get(b, FieldIV)
	if err != nil {
		return nil, err
	}
	copy(c.IV[:], iv)
	if c.DeclaredLength, err = ServerRequestLayout.Uint16(b, FieldDeclaredLength); err != nil {
		return nil, err
	}
	if c.Ciphertext, err = getCopy(ServerRequestLayout, b, FieldCiphertext); err != nil {
		return nil, err
	}
	return c, nil
}

// NonceProof is the decrypted body of message 4: the answer to the
// initiator's challenge and the responder's own challenge.
type NonceProof struct {
	Reply     nonce.Nonce
	Challenge nonce.Nonce
}

// ToBytes serializes the NonceProof and returns the resulting slice.
func (c *NonceProof) ToBytes() []byte {
	b, err := fill(NonceProofLayout,
		putUint64(FieldNonceReply, uint64(c.Reply)),
		putUint64(FieldNonceChallenge, uint64(c.Challenge)),
	)
	if err != nil {
		panic(err)
	}
	return b
}

// NonceProofFromBytes decodes a NonceProof from a decrypted message 4.
// Trailing block padding is ignored.
func NonceProofFromBytes(b []byte) (*NonceProof, error) {
	if len(b) < NonceProofLayout.Size {
		return nil, invalid("nonce proof is %d bytes", len(b))
	}
	reply, err := NonceProofLayout.Uint64(b, FieldNonceReply)
	if err != nil {
		return nil, err
	}
	challenge, err := NonceProofLayout.Uint64(b, FieldNonceChallenge)
	if err != nil {
		return nil, err
	}
	return &NonceProof{Reply: nonce.Nonce(reply), Challenge: nonce.Nonce(challenge)}, nil
}

// NonceBlock encodes n followed by zero padding to one cipher block.
func NonceBlock(n nonce.Nonce) []byte {
	b, err := fill(NonceBlockLayout, putUint64(FieldNonce, uint64(n)))
	if err != nil {
		panic(err)
	}
	return b
}

// NonceFromBlock decodes the nonce at the start of a decrypted block.
func NonceFromBlock(b []byte) (nonce.Nonce, error) {
	if len(b) < NonceBlockLayout.Size {
		return 0, invalid("nonce block is %d bytes", len(b))
	}
	n, err := NonceBlockLayout.Uint64(b, FieldNonce)
	return nonce.Nonce(n), err
}

// Obfuscate returns a copy of b with every byte XORed with the
// obfuscation byte.  Applying it twice yields the input.
func Obfuscate(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = v ^ constants.ObfuscationByte
	}
	return out
}

func getCopy(l *Layout, b []byte, name string) ([]byte, error) {
	v, err := l.Get(b, name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}
