// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package discover

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DefaultTimeout bounds a single exchange with a DNS server.
const DefaultTimeout = 5 * time.Second

// ServerTransport is a Transport that sends queries over TCP to a fixed list of
// recursive DNS servers.
// Servers are tried in order until one of them answers.
type ServerTransport struct {
	Servers []netip.AddrPort
	Timeout time.Duration
}

// NewServerTransport returns a transport that queries port 53 of each server.
// If timeout is zero, DefaultTimeout is used.
func NewServerTransport(servers []netip.Addr, timeout time.Duration) *ServerTransport {
	t := &ServerTransport{Timeout: timeout}
	for _, s := range servers {
		t.Servers = append(t.Servers, netip.AddrPortFrom(s, 53))
	}
	return t
}

// LookupSRV satisfies Transport.
func (t *ServerTransport) LookupSRV(ctx context.Context, name string) ([]SRV, error) {
	msg, err := t.query(ctx, name, dns.TypeSRV)
	if err != nil || msg == nil {
		return nil, err
	}
	var records []SRV
	for _, rr := range msg.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		records = append(records, SRV{
			Priority: srv.Priority,
			Weight:   srv.Weight,
			Target:   srv.Target,
			Port:     srv.Port,
		})
	}
	return records, nil
}

// LookupIP satisfies Transport.
func (t *ServerTransport) LookupIP(ctx context.Context, host string, family Family) ([]netip.Addr, error) {
	qtype := dns.TypeA
	if family == IPv6 {
		qtype = dns.TypeAAAA
	}
	msg, err := t.query(ctx, host, qtype)
	if err != nil || msg == nil {
		return nil, err
	}
	var addrs []netip.Addr
	for _, rr := range msg.Answer {
		var (
			addr netip.Addr
			ok   bool
		)
		switch rr := rr.(type) {
		case *dns.A:
			if family == IPv4 {
				addr, ok = netip.AddrFromSlice(rr.A.To4())
			}
		case *dns.AAAA:
			if family == IPv6 {
				addr, ok = netip.AddrFromSlice(rr.AAAA.To16())
			}
		}
		if ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

// query asks each server in turn and returns the first answer.
// A nil message and nil error means that the name does not exist.
func (t *ServerTransport) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if len(t.Servers) == 0 {
		return nil, errors.New("discover: no DNS servers configured")
	}
	timeout := t.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	client := &dns.Client{Net: "tcp", Timeout: timeout}

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), qtype)
	q.RecursionDesired = true

	var errs []error
	for _, server := range t.Servers {
		msg, _, err := client.ExchangeContext(ctx, q, server.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		switch msg.Rcode {
		case dns.RcodeSuccess:
			return msg, nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			errs = append(errs, fmt.Errorf("%s: server returned %s", server, dns.RcodeToString[msg.Rcode]))
		}
	}
	return nil, errors.Join(errs...)
}
