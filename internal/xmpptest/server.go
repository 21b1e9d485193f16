// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

// Server is a TCP listener on the loopback interface that hands accepted
// connections to the test.
type Server struct {
	l     net.Listener
	conns chan net.Conn
}

// NewServer starts listening on an ephemeral IPv4 loopback port.
// The listener and any accepted connections are closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("error listening: %v", err)
	}
	s := &Server{
		l:     l,
		conns: make(chan net.Conn, 8),
	}
	go func() {
		defer close(s.conns)
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			s.conns <- c
		}
	}()
	tb.Cleanup(func() {
		/* #nosec */
		l.Close()
		for c := range s.conns {
			/* #nosec */
			c.Close()
		}
	})
	return s
}

// AddrPort returns the address the server is listening on.
func (s *Server) AddrPort() netip.AddrPort {
	return s.l.Addr().(*net.TCPAddr).AddrPort()
}

// Accept waits for the next connection to the server.
// The caller is responsible for closing the connection.
func (s *Server) Accept(tb testing.TB) net.Conn {
	tb.Helper()
	select {
	case c, ok := <-s.conns:
		if !ok {
			tb.Fatal("server closed before a connection was accepted")
		}
		return c
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for a connection")
	}
	return nil
}
