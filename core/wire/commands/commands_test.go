// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package commands

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/schwarmco/go-cartesian-product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nsclient/core/nonce"
	"github.com/katzenpost/nsclient/core/wire/constants"
)

func testTicket(t *testing.T) []byte {
	ticket := make([]byte, constants.TicketLength)
	for i := range ticket {
		ticket[i] = byte(i + 1)
	}
	binary.BigEndian.PutUint16(ticket[18:20], constants.TicketLength-constants.TicketOverhead)
	return ticket
}

func TestLayoutsValid(t *testing.T) {
	t.Parallel()
	for _, l := range Layouts {
		require.NoError(t, l.Validate(), l.Name)
	}
}

func TestLayoutValidateRejects(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	bad := []*Layout{
		{Name: "empty", Size: 0},
		{Name: "oob", Size: 8, Fields: []Field{{"a", 4, 8}}},
		{Name: "negative", Size: 8, Fields: []Field{{"a", -1, 2}}},
		{Name: "zero", Size: 8, Fields: []Field{{"a", 0, 0}}},
		{Name: "overlap", Size: 8, Fields: []Field{{"a", 0, 4}, {"b", 3, 2}}},
		{Name: "overlap-unsorted", Size: 8, Fields: []Field{{"b", 3, 2}, {"a", 0, 4}}},
		{Name: "dup", Size: 8, Fields: []Field{{"a", 0, 2}, {"a", 4, 2}}},
	}
	for _, l := range bad {
		require.Error(l.Validate(), l.Name)
	}
}

func TestBufferBounds(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b := TicketRequestLayout.NewBuffer()
	require.Error(b.Put(FieldInitiator, make([]byte, 7)), "overflowing a field")
	require.Error(b.Put("no_such_field", nil))
	require.Error(b.PutUint16(FieldNonce, 1), "width mismatch")
	require.Error(b.PutUint64(FieldInitiator, 1), "width mismatch")

	require.NoError(b.Put(FieldResponder, []byte{0xff, 0xff, 0xff, 0xff}))
	require.NoError(b.Put(FieldResponder, []byte{1}))
	require.Equal([]byte{1, 0, 0, 0}, b.Bytes()[14:18], "short values are zero filled")

	_, err := TicketRequestLayout.Get(make([]byte, 10), FieldReserved)
	require.True(errors.Is(err, ErrInvalidMessage))
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	values := []interface{}{uint16(0), uint16(1), uint16(40), uint16(118), uint16(0x0102), uint16(math.MaxUint16)}
	for p := range cartesian.Iter(values, values) {
		h := &Header{PayloadLength: p[0].(uint16), Type: MessageType(p[1].(uint16))}
		b := h.ToBytes()
		require.Len(b, constants.HeaderLength)
		require.Equal(h.PayloadLength, binary.BigEndian.Uint16(b[0:2]))
		require.Equal(uint16(h.Type), binary.BigEndian.Uint16(b[2:4]))

		h2, err := HeaderFromBytes(b)
		require.NoError(err)
		require.Equal(h, h2)
	}

	_, err := HeaderFromBytes([]byte{0, 1, 0})
	require.True(errors.Is(err, ErrInvalidMessage))
}

func TestMessageTypeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "TicketRequest", TicketRequestType.String())
	require.Equal(t, "ServerFinish", ServerFinishType.String())
	require.Equal(t, "MessageType(99)", MessageType(99).String())

	seen := make(map[MessageType]bool)
	for i := TicketRequestType; i <= ServerFinishType; i++ {
		require.False(t, seen[i])
		seen[i] = true
	}
	require.Len(t, messageTypeNames, 8)
}

func TestTicketRequest(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c := &TicketRequest{
		Nonce:     nonce.Nonce(0x1122334455667788),
		Initiator: constants.InitiatorIdentity,
		Responder: constants.ResponderIdentity,
	}
	b, err := c.ToBytes()
	require.NoError(err)
	require.Len(b, 40)
	require.Equal([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, b[0:8])
	require.Equal([]byte("alice\x00"), b[8:14])
	require.Equal([]byte("bob\x00"), b[14:18])
	require.Equal(make([]byte, 22), b[18:40])

	c2, err := TicketRequestFromBytes(b)
	require.NoError(err)
	require.Equal(c, c2)

	c.Initiator = []byte("a much too long identity")
	_, err = c.ToBytes()
	require.Error(err)
}

func TestPreambleAndSealed(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var iv nonce.IV
	for i := range iv {
		iv[i] = byte(0xa0 + i)
	}
	s := &Sealed{Preamble: Preamble{IV: iv, DeclaredLength: 8}, Ciphertext: make([]byte, 16)}
	b := s.ToBytes()
	require.Len(b, serviceAckLength)
	require.Equal(s.Length(), len(b))
	require.Equal(iv[:], b[:16])
	require.Equal([]byte{0, 8}, b[16:18])

	p, err := PreambleFromBytes(b[:18])
	require.NoError(err)
	require.Equal(iv, p.IV)
	require.Equal(uint16(8), p.DeclaredLength)
	require.Equal(16, p.CiphertextLength())

	for _, n := range []uint16{0, 1, 15, 16, 17, 92, math.MaxUint16} {
		p := Preamble{DeclaredLength: n}
		require.Equal(nonce.RoundUp16(int(n)), p.CiphertextLength())
	}

	s = NewSealed(iv, make([]byte, 48))
	require.Equal(uint16(48), s.DeclaredLength)
	require.Len(s.ToBytes(), 66)

	_, err = PreambleFromBytes(b[:17])
	require.Error(err)
}

func TestTicketGrant(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	key := bytes.Repeat([]byte{0x5a}, 16)
	ticket := testTicket(t)
	c := &TicketGrant{
		Nonce:      nonce.Nonce(42),
		Responder:  constants.ResponderIdentity,
		SessionKey: key,
		Ticket:     ticket,
	}
	pt, err := c.ToBytes()
	require.NoError(err)
	require.Len(pt, 92)
	require.Equal([]byte{0, 32}, pt[58:60], "ticket length field at offset 58")
	require.Equal(key, pt[24:40])
	require.Equal(ticket, pt[40:92])

	// Block padding after the ticket is tolerated.
	padded := append(append([]byte{}, pt...), 0, 0, 0, 0)
	c2, err := TicketGrantFromBytes(padded)
	require.NoError(err)
	require.Equal(c.Nonce, c2.Nonce)
	require.Equal(key, c2.SessionKey)
	require.Equal(ticket, c2.Ticket)
	require.Equal(append([]byte("bob\x00"), make([]byte, 12)...), c2.Responder)

	// Decoded fields do not alias the input.
	padded[24] ^= 0xff
	padded[50] ^= 0xff
	require.Equal(key, c2.SessionKey)
	require.Equal(ticket, c2.Ticket)
}

func TestTicketGrantMalformed(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c := &TicketGrant{Nonce: 1, Responder: constants.ResponderIdentity, SessionKey: make([]byte, 16), Ticket: testTicket(t)}
	pt, err := c.ToBytes()
	require.NoError(err)

	cases := map[string][]byte{
		"too short":        pt[:59],
		"ticket truncated": pt[:91],
	}
	long := append([]byte{}, pt...)
	long = append(long, make([]byte, 32)...)
	binary.BigEndian.PutUint16(long[58:60], 64)
	cases["ticket larger than slot"] = long

	short := append([]byte{}, pt...)
	binary.BigEndian.PutUint16(short[58:60], 16)
	cases["ticket smaller than slot"] = short

	huge := append([]byte{}, pt...)
	binary.BigEndian.PutUint16(huge[58:60], math.MaxUint16)
	cases["length out of bounds"] = huge

	for name, b := range cases {
		_, err := TicketGrantFromBytes(b)
		require.Error(err, name)
		require.True(errors.Is(err, ErrInvalidMessage), name)
	}

	bad := testTicket(t)
	bad[19] = 0
	c.Ticket = bad
	_, err = c.ToBytes()
	require.Error(err)
}

func TestServerRequest(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var iv nonce.IV
	iv[0] = 0xee
	ct := bytes.Repeat([]byte{0xcc}, 16)
	ticket := testTicket(t)
	c := &ServerRequest{
		Initiator:      constants.InitiatorIdentity,
		Responder:      constants.ResponderIdentity,
		Ticket:         ticket,
		IV:             iv,
		DeclaredLength: constants.NonceLength,
		Ciphertext:     ct,
	}
	b, err := c.ToBytes()
	require.NoError(err)
	require.Len(b, 118)
	require.Equal([]byte("alice\x00"), b[0:6])
	require.Equal(make([]byte, 10), b[6:16])
	require.Equal([]byte("bob\x00"), b[16:20])
	require.Equal(ticket, b[32:84])
	require.Equal(iv[:], b[84:100])
	require.Equal([]byte{0, 8}, b[100:102])
	require.Equal(ct, b[102:118])

	c2, err := ServerRequestFromBytes(b)
	require.NoError(err)
	require.Equal(ticket, c2.Ticket)
	require.Equal(iv, c2.IV)
	require.Equal(ct, c2.Ciphertext)
	require.Equal(uint16(8), c2.DeclaredLength)

	c.Ticket = ticket[:51]
	_, err = c.ToBytes()
	require.Error(err)

	_, err = ServerRequestFromBytes(b[:117])
	require.Error(err)
}

func TestNonceProofAndBlock(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	p := &NonceProof{Reply: math.MaxUint64, Challenge: 7}
	b := p.ToBytes()
	require.Len(b, 16)
	p2, err := NonceProofFromBytes(b)
	require.NoError(err)
	require.Equal(p, p2)

	_, err = NonceProofFromBytes(b[:15])
	require.Error(err)

	blk := NonceBlock(nonce.Nonce(0x0102030405060708))
	require.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0, 0, 0, 0, 0}, blk)
	n, err := NonceFromBlock(blk)
	require.NoError(err)
	require.Equal(nonce.Nonce(0x0102030405060708), n)

	_, err = NonceFromBlock(blk[:8])
	require.Error(err)
}

func TestObfuscate(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	for _, n := range []int{0, 1, 16, 33, 256} {
		in := make([]byte, n)
		for i := range in {
			in[i] = byte(i * 7)
		}
		out := Obfuscate(in)
		require.Len(out, n, fmt.Sprintf("n=%d", n))
		for i := range in {
			require.Equal(in[i]^0xb6, out[i])
		}
		require.Equal(in, Obfuscate(out))
	}
	assert.Equal(t, []byte{0xb6}, Obfuscate([]byte{0}))
}
