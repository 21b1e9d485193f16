// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package dial contains methods and types for dialing XMPP connections.
package dial // import "mellium.im/c2s/dial"

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"mellium.im/c2s/config"
	"mellium.im/c2s/internal/discover"
	"mellium.im/c2s/jid"
)

// ErrInvalidAddr is returned when dialing an address that is not valid.
var ErrInvalidAddr = errors.New("dial: invalid address")

// Client discovers the server for addr and connects to the first candidate
// endpoint with a client-to-server (c2s) connection.
// Only a single candidate is tried: callers that want to move on to the next
// SRV record should use a c2s.Client.
//
// For more information see the Dialer type.
func Client(ctx context.Context, addr jid.JID, cfg config.Config) (net.Conn, error) {
	d := Dialer{Config: cfg}
	return d.Dial(ctx, addr)
}

// A Dialer contains options for connecting to an XMPP address.
// After a connection is established the Dial method does not attempt to create
// an XMPP session on the connection.
//
// The zero value for each field is equivalent to dialing without that option.
type Dialer struct {
	net.Dialer

	// Config controls the default port, the address family and the DNS servers
	// used during discovery.
	Config config.Config

	// Resolver is used for discovery when Config does not list any DNS servers.
	// If nil, the default resolver is used.
	Resolver *net.Resolver
}

// Dial discovers and connects to the server hosting addr.
// If the context expires before the connection is complete, an error is
// returned. Once successfully connected, any expiration of the context will not
// affect the connection.
func (d *Dialer) Dial(ctx context.Context, addr jid.JID) (net.Conn, error) {
	return d.DialServer(ctx, addr.Domainpart())
}

// DialServer behaves exactly the same as Dial, besides that the server it tries
// to connect to is given as argument instead of using the domainpart of a JID.
func (d *Dialer) DialServer(ctx context.Context, server string) (net.Conn, error) {
	r := discover.NewResolver(discover.NewTransport(d.Config.Resolvers(), d.Resolver))
	e, err := r.NextCandidate(ctx, server, d.Config.UseIPv6, d.Config.Port())
	if err != nil {
		return nil, err
	}
	return d.DialAddr(ctx, e.AddrPort())
}

// DialAddr connects to a resolved address using a socket of the matching
// address family ("tcp4" or "tcp6").
func (d *Dialer) DialAddr(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	if !addr.IsValid() {
		return nil, ErrInvalidAddr
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	network := "tcp4"
	if addr.Addr().Is6() {
		network = "tcp6"
	}
	return d.Dialer.DialContext(ctx, network, addr.String())
}
