// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package discover

import (
	"net/netip"
	"strings"
)

// Endpoint is a concrete address and port that a connection attempt can be
// made to.
// Endpoints are values and are never modified after they are created.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// NewEndpoint creates an endpoint for the given address and port.
// IPv4-mapped IPv6 addresses are converted to plain IPv4 addresses.
func NewEndpoint(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{addr: addr.Unmap(), port: port}
}

// ParseEndpoint parses an "address:port" pair such as "192.0.2.1:5222" or
// "[2001:db8::1]:5222".
// Hostnames are not accepted.
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	return NewEndpoint(ap.Addr(), ap.Port()), nil
}

// Addr returns the IP address of the endpoint.
func (e Endpoint) Addr() netip.Addr {
	return e.addr
}

// Port returns the TCP port of the endpoint.
func (e Endpoint) Port() uint16 {
	return e.port
}

// IsIPv6 reports whether the endpoint requires an IPv6 socket.
func (e Endpoint) IsIPv6() bool {
	return e.addr.Is6()
}

// IsValid reports whether the endpoint has a usable address.
func (e Endpoint) IsValid() bool {
	return e.addr.IsValid()
}

// AddrPort returns the endpoint as a netip.AddrPort.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.addr, e.port)
}

// Network returns the name of the network that must be used to dial the
// endpoint ("tcp4" or "tcp6").
func (e Endpoint) Network() string {
	if e.IsIPv6() {
		return "tcp6"
	}
	return "tcp4"
}

// String formats the endpoint as "192.0.2.1:5222" or "[2001:db8::1]:5222".
func (e Endpoint) String() string {
	if !e.addr.IsValid() {
		return "invalid endpoint"
	}
	return e.AddrPort().String()
}

// parseLiteral reports whether host is an IP literal, optionally wrapped in
// brackets.
func parseLiteral(host string) (netip.Addr, bool) {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
