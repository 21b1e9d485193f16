// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package discover is used to look up the network address of an XMPP server.
package discover // import "mellium.im/c2s/internal/discover"

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/netip"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/net/idna"
)

// Service is the SRV service label used to find client-to-server endpoints.
const Service = "_xmpp-client._tcp."

// Errors returned by this package.
var (
	ErrInvalidHostname = errors.New("discover: invalid hostname")
	ErrDiscovery       = errors.New("discover: DNS query failed")
	ErrNoAddress       = errors.New("discover: no address found")
)

// SRV is a single service record.
type SRV struct {
	Priority uint16
	Weight   uint16
	Target   string
	Port     uint16
}

// SortSRV orders records by ascending priority and, for records of equal
// priority, by descending weight.
// Records that compare equal keep their relative order.
//
// This is a deterministic stand in for the weighted random selection of
// RFC 2782: the heaviest record of the lowest priority is always tried first.
func SortSRV(records []SRV) {
	slices.SortStableFunc(records, func(a, b SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
}

// Option configures a Resolver.
type Option func(*Resolver)

// Logger sets the logger used for debug output.
// By default nothing is logged.
func Logger(l *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// Meter sets the meter used to record DNS queries.
// By default the global meter provider is used.
func Meter(m metric.Meter) Option {
	return func(r *Resolver) {
		r.meter = m
	}
}

// IPv6Support overrides detection of platform IPv6 support.
func IPv6Support(f func() bool) Option {
	return func(r *Resolver) {
		r.ipv6 = f
	}
}

// Resolver finds the next endpoint to try when connecting to a host.
//
// The first lookup for a hostname queries the SRV records for the XMPP client
// service and caches them. Each call to NextCandidate then returns the address
// of the next record, and once the records are exhausted (or if there were
// none) the address of the hostname itself on the default port.
//
// A Resolver tracks a single hostname at a time and must not be used
// concurrently.
type Resolver struct {
	t       Transport
	logger  *log.Logger
	meter   metric.Meter
	queries metric.Int64Counter
	ipv6    func() bool

	host    string
	queried bool
	records []SRV
	cursor  int
}

// NewResolver returns a resolver that queries t.
func NewResolver(t Transport, opts ...Option) *Resolver {
	r := &Resolver{
		t:      t,
		logger: log.New(io.Discard, "", 0),
		meter:  otel.Meter("mellium.im/c2s/internal/discover"),
		ipv6:   SupportsIPv6,
	}
	for _, opt := range opts {
		opt(r)
	}
	var err error
	r.queries, err = r.meter.Int64Counter("c2s.dns.queries",
		metric.WithDescription("DNS queries issued while resolving endpoints"))
	if err != nil {
		r.queries = noop.Int64Counter{}
	}
	return r
}

// Hostname returns the hostname currently being resolved.
func (r *Resolver) Hostname() string {
	return r.host
}

// Reset forgets any cached SRV records and the position of the cursor.
func (r *Resolver) Reset() {
	r.host = ""
	r.queried = false
	r.records = nil
	r.cursor = 0
}

// Remaining returns the number of SRV records that have not been tried yet.
func (r *Resolver) Remaining() int {
	return len(r.records) - r.cursor
}

// NextCandidate returns the next endpoint to try for hostname.
//
// Literal IP addresses are returned with defaultPort without any DNS queries.
// If preferIPv6 is set and the platform supports IPv6, AAAA records are
// preferred over A records.
// Errors from the transport are returned wrapped in ErrDiscovery; they are not
// retried.
func (r *Resolver) NextCandidate(ctx context.Context, hostname string, preferIPv6 bool, defaultPort uint16) (Endpoint, error) {
	if hostname == "" {
		return Endpoint{}, ErrInvalidHostname
	}
	if addr, ok := parseLiteral(hostname); ok {
		r.logger.Printf("using literal address %s", addr)
		return NewEndpoint(addr, defaultPort), nil
	}

	name, err := idna.Lookup.ToASCII(strings.TrimSuffix(hostname, "."))
	if err != nil || name == "" {
		return Endpoint{}, fmt.Errorf("%w %q: %v", ErrInvalidHostname, hostname, err)
	}
	if name != r.host {
		r.Reset()
		r.host = name
	}

	if !r.queried {
		r.records, err = r.lookupSRV(ctx, name)
		if err != nil {
			return Endpoint{}, err
		}
		r.queried = true
	}

	if r.cursor < len(r.records) {
		rec := r.records[r.cursor]
		r.cursor++
		r.logger.Printf("resolving SRV target %s (priority %d, weight %d)", rec.Target, rec.Priority, rec.Weight)
		addr, err := r.resolve(ctx, rec.Target, preferIPv6)
		if err != nil {
			return Endpoint{}, err
		}
		r.logger.Printf("found address %s", addr)
		return NewEndpoint(addr, rec.Port), nil
	}

	r.logger.Printf("no SRV records remaining, resolving %s", name)
	addr, err := r.resolve(ctx, name, preferIPv6)
	if err != nil {
		return Endpoint{}, err
	}
	r.logger.Printf("found address %s", addr)
	return NewEndpoint(addr, defaultPort), nil
}

func (r *Resolver) lookupSRV(ctx context.Context, name string) ([]SRV, error) {
	r.logger.Printf("resolving SRV records for %s", name)
	r.queries.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "SRV")))
	records, err := r.t.LookupSRV(ctx, Service+name)
	if err != nil {
		return nil, fmt.Errorf("%w: SRV %s: %w", ErrDiscovery, name, err)
	}

	// RFC 6120 §3.2.1
	//    If a response is received, it will contain one or more
	//    combinations of a port and FDQN, each of which is weighted and
	//    prioritized as described in [DNS-SRV].  (However, if the result
	//    of the SRV lookup is a single resource record with a Target of
	//    ".", i.e., the root domain, then the initiating entity MUST abort
	//    SRV processing at this point because according to [DNS-SRV] such
	//    a Target "means that the service is decidedly not available at
	//    this domain".)
	if len(records) == 1 && (records[0].Target == "." || records[0].Target == "") {
		records = nil
	}
	if len(records) == 0 {
		r.logger.Printf("no SRV records for %s", name)
		return nil, nil
	}

	records = slices.Clone(records)
	for i := range records {
		records[i].Target = strings.TrimSuffix(records[i].Target, ".")
	}
	SortSRV(records)
	return records, nil
}

func (r *Resolver) resolve(ctx context.Context, host string, preferIPv6 bool) (netip.Addr, error) {
	if addr, ok := parseLiteral(host); ok {
		return addr, nil
	}
	if preferIPv6 && r.ipv6() {
		addrs, err := r.lookupIP(ctx, host, IPv6)
		if err != nil {
			return netip.Addr{}, err
		}
		if len(addrs) > 0 {
			return addrs[0], nil
		}
	}
	addrs, err := r.lookupIP(ctx, host, IPv4)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w for %s", ErrNoAddress, host)
	}
	return addrs[0], nil
}

func (r *Resolver) lookupIP(ctx context.Context, host string, family Family) ([]netip.Addr, error) {
	r.logger.Printf("resolving %s address for %s", family, host)
	r.queries.Add(ctx, 1, metric.WithAttributes(attribute.String("type", family.RecordType())))
	addrs, err := r.t.LookupIP(ctx, host, family)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrDiscovery, family.RecordType(), host, err)
	}
	return addrs, nil
}
