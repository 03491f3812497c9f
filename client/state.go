// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import "fmt"

// State identifies a step of the protocol run.  States are strictly
// sequential and every failure is terminal.
type State int

const (
	StateInit State = iota
	StateTicketRequest
	StateTicketResponse
	StateServerRequest
	StateServiceResponse
	StateServiceAck
	StateDataRequest
	StateDataResponse
	StateServerFinish
	StateDone
)

var stateNames = [...]string{
	StateInit:            "init",
	StateTicketRequest:   "ticket_request",
	StateTicketResponse:  "ticket_response",
	StateServerRequest:   "server_request",
	StateServiceResponse: "service_response",
	StateServiceAck:      "service_ack",
	StateDataRequest:     "data_request",
	StateDataResponse:    "data_response",
	StateServerFinish:    "server_finish",
	StateDone:            "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
