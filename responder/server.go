// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package responder

import (
	"errors"
	"net"
	"sync"

	"github.com/katzenpost/nsclient/core/worker"
)

// Server accepts connections and serves one protocol run on each.
type Server struct {
	worker.Worker

	r *Responder
	l net.Listener

	sync.Mutex
	conns map[net.Conn]struct{}

	// OnTranscript, if set, is called after every run with the transcript
	// and the error, if any.  It must be set before Listen.
	OnTranscript func(*Transcript, error)
}

// NewServer returns a Server for r.
func NewServer(r *Responder) *Server {
	return &Server{
		r:     r,
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen starts accepting connections from l until Halt is called.
func (s *Server) Listen(l net.Listener) {
	s.l = l
	s.Go(s.acceptWorker)
	s.Go(func() {
		<-s.HaltCh()
		l.Close()
		s.Lock()
		defer s.Unlock()
		for c := range s.conns {
			c.Close()
		}
	})
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

func (s *Server) acceptWorker() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			select {
			case <-s.HaltCh():
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.r.log.Errorf("Critical accept failure: %v", err)
				}
			}
			return
		}
		s.r.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		s.Lock()
		s.conns[conn] = struct{}{}
		s.Unlock()
		select {
		case <-s.HaltCh():
			conn.Close()
		default:
		}
		s.Go(func() {
			t, err := s.r.Serve(conn)
			s.Lock()
			delete(s.conns, conn)
			s.Unlock()
			if s.OnTranscript != nil {
				s.OnTranscript(t, err)
			}
		})
	}
}
