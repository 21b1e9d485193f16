// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package dial_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"syscall"
	"testing"

	"mellium.im/c2s/config"
	"mellium.im/c2s/dial"
	"mellium.im/c2s/internal/discover"
	"mellium.im/c2s/internal/xmpptest"
	"mellium.im/c2s/jid"
)

var errPrevented = errors.New("dial_test: expected error: preventing dial")

// recorder records the network and address of every dial attempt and stops
// the attempt before any packets are sent.
type recorder struct {
	mu       sync.Mutex
	network  string
	address  string
	resolved bool
}

func (r *recorder) dialer(cfg config.Config) *dial.Dialer {
	return &dial.Dialer{
		Config: cfg,
		Dialer: net.Dialer{
			Control: func(network, address string, _ syscall.RawConn) error {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.network = network
				r.address = address
				return errPrevented
			},
		},
		Resolver: &net.Resolver{
			PreferGo:     true,
			StrictErrors: true,
			Dial: func(context.Context, string, string) (net.Conn, error) {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.resolved = true
				return nil, errors.New("dial_test: expected error: preventing resolver dial")
			},
		},
	}
}

func TestDialLiteral(t *testing.T) {
	for i, tc := range [...]struct {
		cfg     config.Config
		addr    string
		network string
		socket  string
	}{
		0: {addr: "::1", network: "tcp6", socket: "[::1]:5222"},
		1: {addr: "[::1]", network: "tcp6", socket: "[::1]:5222"},
		2: {addr: "127.0.0.1", network: "tcp4", socket: "127.0.0.1:5222"},
		3: {cfg: config.Config{DefaultPort: 5269}, addr: "feste@127.0.0.1/rp", network: "tcp4", socket: "127.0.0.1:5269"},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			rec := &recorder{}
			d := rec.dialer(tc.cfg)
			conn, err := d.Dial(context.Background(), jid.MustParse(tc.addr))
			if conn != nil {
				/* #nosec */
				conn.Close()
			}
			if !errors.Is(err, errPrevented) {
				t.Logf("dial returned unexpected error: %v", err)
			}
			if rec.resolved {
				t.Error("literal address should not be resolved")
			}
			if rec.network != tc.network {
				t.Errorf("wrong network: want=%q, got=%q", tc.network, rec.network)
			}
			if rec.address != tc.socket {
				t.Errorf("dialed wrong address: want=%q, got=%q", tc.socket, rec.address)
			}
		})
	}
}

func TestDialServerDiscoveryError(t *testing.T) {
	rec := &recorder{}
	d := rec.dialer(config.Config{})
	_, err := d.DialServer(context.Background(), "example.net")
	if !errors.Is(err, discover.ErrDiscovery) {
		t.Errorf("expected discovery error, got %v", err)
	}
	if !rec.resolved {
		t.Error("expected the resolver to be used")
	}
	if rec.address != "" {
		t.Errorf("expected no dial after a discovery error, dialed %q", rec.address)
	}
}

func TestDialAddr(t *testing.T) {
	srv := xmpptest.NewServer(t)
	var d dial.Dialer
	conn, err := d.DialAddr(context.Background(), srv.AddrPort())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	peer := srv.Accept(t)
	defer peer.Close()

	if _, err = peer.Write([]byte("<a/>")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err = conn.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "<a/>" {
		t.Errorf("wrong data: want=%q, got=%q", "<a/>", buf)
	}
}

func TestDialAddrInvalid(t *testing.T) {
	var d dial.Dialer
	_, err := d.DialAddr(context.Background(), netip.AddrPort{})
	if !errors.Is(err, dial.ErrInvalidAddr) {
		t.Errorf("expected ErrInvalidAddr, got %v", err)
	}
}

func TestDialClientPanicsIfNilContext(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected Dial to panic when passed a nil context.")
		}
	}()
	//lint:ignore SA1012 we're testing that this panics
	dial.Client(nil, jid.MustParse("127.0.0.1"), config.Config{}) // nolint: staticcheck
}

func TestClientDialsFirstCandidate(t *testing.T) {
	srv := xmpptest.NewServer(t)
	addr := jid.MustParse("feste@" + srv.AddrPort().Addr().String())
	cfg := config.Config{DefaultPort: int(srv.AddrPort().Port())}

	conn, err := dial.Client(context.Background(), addr, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	peer := srv.Accept(t)
	defer peer.Close()

	if got := conn.RemoteAddr().String(); got != srv.AddrPort().String() {
		t.Errorf("wrong remote address: want=%s, got=%s", srv.AddrPort(), got)
	}
}
