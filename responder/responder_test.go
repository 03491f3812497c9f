// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package responder

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nsclient/core/wire"
	"github.com/katzenpost/nsclient/core/wire/commands"
	"github.com/katzenpost/nsclient/core/wire/constants"
)

func TestFaultNames(t *testing.T) {
	for f := range faultNames {
		g, err := FaultFromString(f.String())
		require.NoError(t, err)
		require.Equal(t, f, g)
	}
	_, err := FaultFromString("gremlins")
	require.Error(t, err)
	require.Equal(t, "Fault(42)", Fault(42).String())
}

func TestNew(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)

	_, err = New(&Config{Password: []byte("pw"), ServiceKey: []byte("short")})
	require.Error(t, err)

	_, err = New(&Config{Password: []byte("pw"), SessionKey: []byte("short")})
	require.Error(t, err)

	r, err := New(&Config{Password: []byte("pw")})
	require.NoError(t, err)
	require.Len(t, r.cfg.ServiceKey, constants.KeyLength)
	require.Equal(t, DefaultPayload, r.cfg.Payload)
}

func TestTicket(t *testing.T) {
	r, err := New(&Config{Password: []byte("pw")})
	require.NoError(t, err)

	kab := bytes.Repeat([]byte{0x11}, constants.KeyLength)
	ticket, err := r.makeTicket(kab, constants.InitiatorIdentity)
	require.NoError(t, err)
	require.Len(t, ticket, constants.TicketLength)

	l, err := commands.TicketLayout.Uint16(ticket, commands.FieldTicketLength)
	require.NoError(t, err)
	require.Equal(t, uint16(constants.TicketLength-constants.TicketOverhead), l)

	gotKey, gotID, err := r.openTicket(ticket)
	require.NoError(t, err)
	require.Equal(t, kab, gotKey)
	require.True(t, bytes.HasPrefix(gotID, constants.InitiatorIdentity))

	grant := &commands.TicketGrant{Responder: constants.ResponderIdentity, SessionKey: kab, Ticket: ticket}
	b, err := grant.ToBytes()
	require.NoError(t, err)
	parsed, err := commands.TicketGrantFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, ticket, parsed.Ticket)
}

func TestServeRejectsWrongType(t *testing.T) {
	r, err := New(&Config{Password: []byte("pw")})
	require.NoError(t, err)

	c1, c2 := net.Pipe()
	ch := make(chan error, 1)
	go func() {
		_, err := r.Serve(c2)
		ch <- err
	}()

	c := wire.NewConn(c1, nil)
	go func() {
		// The body write fails once the responder hangs up.
		_ = c.Send(commands.ServiceAckType, make([]byte, 34))
	}()
	err = <-ch
	require.ErrorIs(t, err, errPeerMisbehaved)
	c.Close()
}
