// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"context"
	"net/netip"
	"sync"

	"mellium.im/c2s/internal/discover"
)

// Query is a DNS query recorded by Transport.
type Query struct {
	Name string
	Type string
}

// Transport is a discover.Transport that answers from canned records and
// records every query it receives.
// Names that have no canned records do not exist.
type Transport struct {
	SRV  map[string][]discover.SRV
	A    map[string][]netip.Addr
	AAAA map[string][]netip.Addr

	// Err, if set, is returned from every query.
	Err error

	mu      sync.Mutex
	queries []Query
}

// LookupSRV satisfies discover.Transport.
func (t *Transport) LookupSRV(_ context.Context, name string) ([]discover.SRV, error) {
	t.record(name, "SRV")
	if t.Err != nil {
		return nil, t.Err
	}
	return t.SRV[name], nil
}

// LookupIP satisfies discover.Transport.
func (t *Transport) LookupIP(_ context.Context, host string, family discover.Family) ([]netip.Addr, error) {
	t.record(host, family.RecordType())
	if t.Err != nil {
		return nil, t.Err
	}
	if family == discover.IPv6 {
		return t.AAAA[host], nil
	}
	return t.A[host], nil
}

// Queries returns the queries received so far.
func (t *Transport) Queries() []Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := make([]Query, len(t.queries))
	copy(q, t.queries)
	return q
}

func (t *Transport) record(name, typ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = append(t.queries, Query{Name: name, Type: typ})
}
