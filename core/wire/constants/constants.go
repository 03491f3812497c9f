// SPDX-FileCopyrightText: Copyright (C) 2024 David Anthony Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package constants contains the fixed parameters of the authentication
// wire protocol.
package constants

const (
	// MaxMsgLen is the largest body a 16 bit header length can announce.
	MaxMsgLen = 65535

	// HeaderLength is the length of the message header: payload length
	// followed by message type, both 16 bit network byte order.
	HeaderLength = 2 + 2

	// KeyLength is the length of the master and session keys.
	KeyLength = 16

	// IVLength is the length of a CBC initialization vector.
	IVLength = 16

	// BlockLength is the cipher block length.
	BlockLength = 16

	// NonceLength is the length of a nonce on the wire.
	NonceLength = 8

	// DeclaredLengthLength is the length of the declared ciphertext length
	// field that follows every IV on the wire.
	DeclaredLengthLength = 2

	// PreambleLength is the length of the IV and declared length pair that
	// precedes every variable length ciphertext.
	PreambleLength = IVLength + DeclaredLengthLength

	// IdentityFieldLength is the width of an identity slot in the
	// Server Request and in the decrypted Ticket Response.
	IdentityFieldLength = 16

	// TicketLength is the size of the ticket slot in the Server Request.
	TicketLength = 52

	// TicketOverhead is the number of ticket bytes not covered by the
	// ticket's embedded length field.
	TicketOverhead = 20

	// ObfuscationByte is XORed into every byte of the Data Request payload
	// to produce the Data Response payload.
	ObfuscationByte byte = 0xb6
)

var (
	// InitiatorIdentity is the identity of the initiating principal.
	InitiatorIdentity = []byte{'a', 'l', 'i', 'c', 'e', 0x00}

	// ResponderIdentity is the identity of the responding principal.
	ResponderIdentity = []byte{'b', 'o', 'b', 0x00}
)
