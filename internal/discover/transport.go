// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package discover

import (
	"context"
	"errors"
	"net"
	"net/netip"
)

// Family is an IP address family.
type Family uint8

// A list of address families.
const (
	IPv4 Family = iota
	IPv6
)

// String returns "IPv4" or "IPv6".
func (f Family) String() string {
	if f == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// RecordType returns the DNS record type holding addresses of the family.
func (f Family) RecordType() string {
	if f == IPv6 {
		return "AAAA"
	}
	return "A"
}

// Transport performs DNS queries.
//
// A name that does not exist is not an error: implementations return an empty
// result and a nil error.
// Any other failure (a network error, a malformed response, a server failure)
// is returned as an error.
type Transport interface {
	// LookupSRV returns the SRV records published under the fully qualified
	// service name (eg. "_xmpp-client._tcp.example.net").
	LookupSRV(ctx context.Context, name string) ([]SRV, error)

	// LookupIP returns the A or AAAA records of host.
	LookupIP(ctx context.Context, host string, family Family) ([]netip.Addr, error)
}

// NewTransport returns a ServerTransport for servers if there are any, or a
// SystemTransport using resolver otherwise.
func NewTransport(servers []netip.Addr, resolver *net.Resolver) Transport {
	if len(servers) > 0 {
		return NewServerTransport(servers, DefaultTimeout)
	}
	return SystemTransport{Resolver: resolver}
}

// SystemTransport is a Transport that uses a net.Resolver.
// The zero value uses the default resolver of the operating system.
type SystemTransport struct {
	Resolver *net.Resolver
}

func (t SystemTransport) resolver() *net.Resolver {
	if t.Resolver == nil {
		return net.DefaultResolver
	}
	return t.Resolver
}

// LookupSRV satisfies Transport.
func (t SystemTransport) LookupSRV(ctx context.Context, name string) ([]SRV, error) {
	_, addrs, err := t.resolver().LookupSRV(ctx, "", "", name)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	records := make([]SRV, 0, len(addrs))
	for _, addr := range addrs {
		records = append(records, SRV{
			Priority: addr.Priority,
			Weight:   addr.Weight,
			Target:   addr.Target,
			Port:     addr.Port,
		})
	}
	return records, nil
}

// LookupIP satisfies Transport.
func (t SystemTransport) LookupIP(ctx context.Context, host string, family Family) ([]netip.Addr, error) {
	network := "ip4"
	if family == IPv6 {
		network = "ip6"
	}
	addrs, err := t.resolver().LookupNetIP(ctx, network, host)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return addrs, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	ok := errors.As(err, &dnsErr)
	return ok && dnsErr.IsNotFound
}
