// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

// Wire protocol commands.
package commands

import (
	"fmt"

	"github.com/katzenpost/nsclient/core/wire/constants"
)

// MessageType is the type field of a message header.
type MessageType uint16

const (
	TicketRequestType   MessageType = 1
	TicketResponseType  MessageType = 2
	ServerRequestType   MessageType = 3
	ServiceResponseType MessageType = 4
	ServiceAckType      MessageType = 5
	DataRequestType     MessageType = 6
	DataResponseType    MessageType = 7
	ServerFinishType    MessageType = 8
)

var messageTypeNames = map[MessageType]string{
	TicketRequestType:   "TicketRequest",
	TicketResponseType:  "TicketResponse",
	ServerRequestType:   "ServerRequest",
	ServiceResponseType: "ServiceResponse",
	ServiceAckType:      "ServiceAck",
	DataRequestType:     "DataRequest",
	DataResponseType:    "DataResponse",
	ServerFinishType:    "ServerFinish",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

const (
	ticketRequestLength   = 40
	serverRequestLength   = 118
	serviceAckLength      = constants.PreambleLength + constants.BlockLength
	ticketGrantMinLength  = 60
	ticketOffset          = 40
	nonceProofLength      = 2 * constants.NonceLength
	nonceBlockLength      = constants.BlockLength
	ticketCiphertextBlock = constants.TicketLength - constants.TicketOverhead

	// Field names.
	FieldNonce          = "nonce"
	FieldInitiator      = "initiator"
	FieldResponder      = "responder"
	FieldReserved       = "reserved"
	FieldIV             = "iv"
	FieldDeclaredLength = "declared_length"
	FieldCiphertext     = "ciphertext"
	FieldSessionKey     = "session_key"
	FieldTicketIV       = "ticket_iv"
	FieldTicketReserved = "ticket_reserved"
	FieldTicketLength   = "ticket_length"
	FieldTicket         = "ticket"
	FieldNonceReply     = "nonce_reply"
	FieldNonceChallenge = "nonce_challenge"
	FieldPadding        = "padding"
	FieldPayloadLength  = "payload_length"
	FieldType           = "type"
)
