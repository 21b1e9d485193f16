// Copyright 2018 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package c2s_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"syscall"
	"testing"
	"time"

	"mellium.im/c2s"
	"mellium.im/c2s/config"
	"mellium.im/c2s/dial"
	"mellium.im/c2s/internal/discover"
	"mellium.im/c2s/internal/xmpptest"
	"mellium.im/c2s/jid"
)

const waitTime = 5 * time.Second

// transportFor returns a transport that points example.net at the given
// server through a single SRV record.
func transportFor(addr netip.AddrPort) *xmpptest.Transport {
	return &xmpptest.Transport{
		SRV: map[string][]discover.SRV{
			"_xmpp-client._tcp.example.net": {
				{Priority: 1, Weight: 1, Target: "xmpp.example.net.", Port: addr.Port()},
			},
		},
		A: map[string][]netip.Addr{
			"xmpp.example.net": {addr.Addr()},
		},
	}
}

// closedPort returns a loopback address that nothing is listening on.
func closedPort(t *testing.T) netip.AddrPort {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error listening: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr).AddrPort()
	/* #nosec */
	l.Close()
	return addr
}

func newConn(t *testing.T, cfg config.Config, transport *xmpptest.Transport) *c2s.Conn {
	t.Helper()
	c := c2s.NewConn(cfg, c2s.WithTransport(transport))
	t.Cleanup(func() {
		/* #nosec */
		c.Close()
	})
	return c
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTime):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnectEmptyHost(t *testing.T) {
	transport := &xmpptest.Transport{}
	c := newConn(t, config.Config{}, transport)

	err := c.Connect(context.Background(), "")
	if !errors.Is(err, c2s.ErrInvalidArgument) {
		t.Errorf("wrong error: want=%v, got=%v", c2s.ErrInvalidArgument, err)
	}
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
	if q := transport.Queries(); len(q) != 0 {
		t.Errorf("expected no DNS queries, got %v", q)
	}
	err = c.ConnectJID(context.Background(), jid.JID{})
	if !errors.Is(err, c2s.ErrInvalidArgument) {
		t.Errorf("wrong error for zero JID: want=%v, got=%v", c2s.ErrInvalidArgument, err)
	}
}

func TestConnectDeliversDataInOrder(t *testing.T) {
	srv := xmpptest.NewServer(t)
	c := newConn(t, config.Config{}, transportFor(srv.AddrPort()))

	connected := make(chan struct{}, 4)
	c.OnConnected(func() {
		connected <- struct{}{}
	})
	data := make(chan string, 4)
	c.OnData(func(s string) {
		data <- s
	})

	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	server := srv.Accept(t)
	defer server.Close()
	wait(t, connected, "connected signal")
	if !c.IsConnected() {
		t.Errorf("expected conn to be connected, got state %v", c.State())
	}

	for i, want := range []string{"<a/>", "<b/>", "<c/>"} {
		if _, err := server.Write([]byte(want)); err != nil {
			t.Fatalf("%d: error writing: %v", i, err)
		}
		select {
		case got := <-data:
			if got != want {
				t.Errorf("%d: wrong data: want=%q, got=%q", i, want, got)
			}
		case <-time.After(waitTime):
			t.Fatalf("%d: timed out waiting for %q", i, want)
		}
	}
	if n := len(connected); n != 0 {
		t.Errorf("connected signal emitted %d extra times", n)
	}

	if err := c.Disconnect(); err != nil {
		t.Errorf("error disconnecting: %v", err)
	}
	wait(t, c.Done(), "read loop to exit")
	if err := c.Err(); err != nil {
		t.Errorf("unexpected error after disconnect: %v", err)
	}
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
}

func TestConnectLiteralSkipsDNS(t *testing.T) {
	srv := xmpptest.NewServer(t)
	transport := &xmpptest.Transport{}
	c := newConn(t, config.Config{DefaultPort: int(srv.AddrPort().Port())}, transport)

	connected := make(chan struct{}, 1)
	c.OnConnected(func() {
		connected <- struct{}{}
	})
	if err := c.Connect(context.Background(), srv.AddrPort().Addr().String()); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	server := srv.Accept(t)
	defer server.Close()
	wait(t, connected, "connected signal")
	if q := transport.Queries(); len(q) != 0 {
		t.Errorf("expected no DNS queries, got %v", q)
	}
}

func TestReadTimeoutIsRenewed(t *testing.T) {
	const timeout = 300 * time.Millisecond
	srv := xmpptest.NewServer(t)
	c := newConn(t, config.Config{ReadTimeout: timeout}, transportFor(srv.AddrPort()))

	received := make(chan string, 16)
	c.OnData(func(s string) {
		received <- s
	})
	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	server := srv.Accept(t)
	defer server.Close()

	// Keep the connection busy for longer than a single timeout.
	const writes = 8
	for i := 0; i < writes; i++ {
		time.Sleep(timeout / 4)
		if _, err := server.Write([]byte("<x/>")); err != nil {
			t.Fatalf("%d: error writing: %v", i, err)
		}
		select {
		case <-received:
		case <-time.After(waitTime):
			t.Fatalf("%d: timed out waiting for data", i)
		}
	}
	select {
	case <-c.Done():
		t.Fatalf("connection ended while data was still arriving: %v", c.Err())
	default:
	}

	// Then go quiet.
	wait(t, c.Done(), "read timeout")
	if err := c.Err(); err != nil {
		t.Errorf("timeout should end the connection quietly, got %v", err)
	}
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
}

func TestServerCloseEndsConnection(t *testing.T) {
	srv := xmpptest.NewServer(t)
	c := newConn(t, config.Config{}, transportFor(srv.AddrPort()))
	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	server := srv.Accept(t)
	/* #nosec */
	server.Close()

	wait(t, c.Done(), "read loop to exit")
	if err := c.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := c.Disconnect(); !errors.Is(err, c2s.ErrNotConnected) {
		t.Errorf("wrong error disconnecting: want=%v, got=%v", c2s.ErrNotConnected, err)
	}
}

func TestDialFailure(t *testing.T) {
	c := newConn(t, config.Config{}, transportFor(closedPort(t)))
	connected := make(chan struct{}, 1)
	c.OnConnected(func() {
		connected <- struct{}{}
	})
	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("resolution should succeed, got %v", err)
	}
	wait(t, c.Done(), "connection attempt to fail")
	if err := c.Err(); err == nil {
		t.Errorf("expected an error dialing a closed port")
	}
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
	if len(connected) != 0 {
		t.Errorf("connected signal should not be emitted")
	}
}

func TestDiscoveryError(t *testing.T) {
	transport := &xmpptest.Transport{Err: errors.New("SERVFAIL")}
	c := newConn(t, config.Config{}, transport)

	err := c.Connect(context.Background(), "example.net")
	if !errors.Is(err, discover.ErrDiscovery) {
		t.Errorf("wrong error: want=%v, got=%v", discover.ErrDiscovery, err)
	}
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
}

func TestConnectTwice(t *testing.T) {
	srv := xmpptest.NewServer(t)
	c := newConn(t, config.Config{}, transportFor(srv.AddrPort()))
	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	server := srv.Accept(t)
	defer server.Close()
	if err := c.Connect(context.Background(), "example.net"); !errors.Is(err, c2s.ErrAlreadyConnected) {
		t.Errorf("wrong error: want=%v, got=%v", c2s.ErrAlreadyConnected, err)
	}
}

func TestDisconnectNeverConnected(t *testing.T) {
	c := newConn(t, config.Config{}, &xmpptest.Transport{})
	if err := c.Disconnect(); !errors.Is(err, c2s.ErrNotConnected) {
		t.Errorf("wrong error: want=%v, got=%v", c2s.ErrNotConnected, err)
	}
	select {
	case <-c.Done():
	default:
		t.Errorf("expected Done to be closed before Connect")
	}
}

func TestCloseIsFinal(t *testing.T) {
	c := c2s.NewConn(config.Config{}, c2s.WithTransport(&xmpptest.Transport{}))
	for i := 0; i < 2; i++ {
		if err := c.Close(); err != nil {
			t.Errorf("%d: unexpected error closing: %v", i, err)
		}
	}
	if err := c.Connect(context.Background(), "example.net"); !errors.Is(err, c2s.ErrClosed) {
		t.Errorf("wrong error: want=%v, got=%v", c2s.ErrClosed, err)
	}
}

func TestWriteUnsupported(t *testing.T) {
	c := newConn(t, config.Config{}, &xmpptest.Transport{})
	n, err := c.Write([]byte("<presence/>"))
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("wrong error: want=%v, got=%v", errors.ErrUnsupported, err)
	}
	if n != 0 {
		t.Errorf("wrong number of bytes written: want=0, got=%d", n)
	}
}

var encryptionTestCases = [...]struct {
	useSSL bool
	want   bool
	err    error
}{
	0: {},
	1: {useSSL: true, want: true, err: c2s.ErrEncryptionUnsupported},
}

func TestStartEncryption(t *testing.T) {
	for i, tc := range encryptionTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			c := newConn(t, config.Config{UseSSL: tc.useSSL}, &xmpptest.Transport{})
			got, err := c.StartEncryption()
			if got != tc.want {
				t.Errorf("wrong result: want=%t, got=%t", tc.want, got)
			}
			if !errors.Is(err, tc.err) {
				t.Errorf("wrong error: want=%v, got=%v", tc.err, err)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	srv := xmpptest.NewServer(t)
	c := newConn(t, config.Config{}, transportFor(srv.AddrPort()))

	kept := make(chan string, 1)
	dropped := make(chan string, 1)
	c.OnData(func(s string) {
		kept <- s
	})
	id := c.OnData(func(s string) {
		dropped <- s
	})
	if !c.Unsubscribe(id) {
		t.Errorf("expected subscriber %s to be removed", id)
	}
	if c.Unsubscribe(id) {
		t.Errorf("subscriber %s removed twice", id)
	}

	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	server := srv.Accept(t)
	defer server.Close()
	if _, err := server.Write([]byte("<a/>")); err != nil {
		t.Fatalf("error writing: %v", err)
	}
	select {
	case <-kept:
	case <-time.After(waitTime):
		t.Fatal("timed out waiting for data")
	}
	if len(dropped) != 0 {
		t.Errorf("unsubscribed callback was called")
	}
}

func TestDisconnectWhileConnecting(t *testing.T) {
	srv := xmpptest.NewServer(t)
	dialing := make(chan struct{})
	d := &dial.Dialer{
		Dialer: net.Dialer{
			ControlContext: func(ctx context.Context, _, _ string, _ syscall.RawConn) error {
				close(dialing)
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}
	c := c2s.NewConn(config.Config{}, c2s.WithTransport(transportFor(srv.AddrPort())), c2s.WithDialer(d))
	t.Cleanup(func() {
		/* #nosec */
		c.Close()
	})
	connected := make(chan struct{}, 1)
	c.OnConnected(func() {
		connected <- struct{}{}
	})

	if err := c.Connect(context.Background(), "example.net"); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	wait(t, dialing, "dial to start")
	if s := c.State(); s != c2s.Connecting {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Connecting, s)
	}
	if c.IsConnected() {
		t.Errorf("conn should not be connected while dialing")
	}

	if err := c.Disconnect(); err != nil {
		t.Errorf("error disconnecting: %v", err)
	}
	wait(t, c.Done(), "dial to be canceled")
	if err := c.Err(); err != nil {
		t.Errorf("canceled dial should end without an error, got %v", err)
	}
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
	if len(connected) != 0 {
		t.Errorf("connected signal should not be emitted")
	}
}

var closeFromCallbackTestCases = [...]struct {
	data bool
}{
	0: {data: false},
	1: {data: true},
}

func TestCloseFromCallback(t *testing.T) {
	for i, tc := range closeFromCallbackTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			srv := xmpptest.NewServer(t)
			c := newConn(t, config.Config{}, transportFor(srv.AddrPort()))

			closed := make(chan error, 1)
			if tc.data {
				c.OnData(func(string) {
					closed <- c.Close()
				})
			} else {
				c.OnConnected(func() {
					closed <- c.Close()
				})
			}

			if err := c.Connect(context.Background(), "example.net"); err != nil {
				t.Fatalf("error connecting: %v", err)
			}
			server := srv.Accept(t)
			defer server.Close()
			if tc.data {
				if _, err := server.Write([]byte("<a/>")); err != nil {
					t.Fatalf("error writing: %v", err)
				}
			}

			select {
			case err := <-closed:
				if err != nil {
					t.Errorf("unexpected error closing: %v", err)
				}
			case <-time.After(waitTime):
				t.Fatal("Close did not return when called from a callback")
			}
			wait(t, c.Done(), "read loop to exit")
			if s := c.State(); s != c2s.Disconnected {
				t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
			}
			if err := c.Connect(context.Background(), "example.net"); !errors.Is(err, c2s.ErrClosed) {
				t.Errorf("wrong error: want=%v, got=%v", c2s.ErrClosed, err)
			}
		})
	}
}

// blockingTransport holds SRV lookups until it is released.
type blockingTransport struct {
	*xmpptest.Transport
	entered chan struct{}
	release chan struct{}
}

func (t blockingTransport) LookupSRV(ctx context.Context, name string) ([]discover.SRV, error) {
	close(t.entered)
	<-t.release
	return t.Transport.LookupSRV(ctx, name)
}

func TestCloseWhileResolving(t *testing.T) {
	srv := xmpptest.NewServer(t)
	transport := blockingTransport{
		Transport: transportFor(srv.AddrPort()),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := c2s.NewConn(config.Config{}, c2s.WithTransport(transport))

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- c.Connect(context.Background(), "example.net")
	}()
	wait(t, transport.entered, "discovery to start")
	if s := c.State(); s != c2s.Connecting {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Connecting, s)
	}

	if err := c.Close(); err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
	close(transport.release)

	select {
	case err := <-connectErr:
		if !errors.Is(err, c2s.ErrClosed) {
			t.Errorf("wrong error: want=%v, got=%v", c2s.ErrClosed, err)
		}
	case <-time.After(waitTime):
		t.Fatal("timed out waiting for Connect to return")
	}
	wait(t, c.Done(), "attempt to end")
	if s := c.State(); s != c2s.Disconnected {
		t.Errorf("wrong state: want=%v, got=%v", c2s.Disconnected, s)
	}
	if err := c.Close(); err != nil {
		t.Errorf("unexpected error closing twice: %v", err)
	}
}
