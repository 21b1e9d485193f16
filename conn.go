// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package c2s

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"mellium.im/c2s/config"
	"mellium.im/c2s/dial"
	"mellium.im/c2s/internal/discover"
	"mellium.im/c2s/jid"
)

// ReadSize is the largest number of bytes handed to Data subscribers at once.
const ReadSize = 4096

// ConnState is the state of the socket owned by a Conn.
type ConnState uint8

// A list of connection states.
const (
	Disconnected ConnState = iota // Disconnected
	Connecting                    // Connecting
	Connected                     // Connected
)

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets a logger for debug output.
// By default nothing is logged.
func WithLogger(l *log.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = l
	}
}

// WithMeter sets the meter used to record connection metrics.
// By default the global meter provider is used.
func WithMeter(m metric.Meter) ConnOption {
	return func(c *Conn) {
		c.meter = m
	}
}

// WithDialer sets the dialer used to open sockets.
// Its Config and Resolver fields are ignored.
func WithDialer(d *dial.Dialer) ConnOption {
	return func(c *Conn) {
		c.dialer = d
	}
}

// WithReadTimeout overrides the read timeout from the configuration.
func WithReadTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithResolver sets the resolver used for discovery when the configuration
// does not list any DNS servers.
func WithResolver(r *net.Resolver) ConnOption {
	return func(c *Conn) {
		c.netResolver = r
	}
}

// session is a single connection attempt and, if it succeeds, the reads that
// follow it.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	conn   net.Conn
	err    error
}

// Conn owns a single connection to an XMPP server.
//
// Connect starts a connection attempt in the background; subscribers
// registered with OnConnected are called once it succeeds, and subscribers
// registered with OnData are then called with each chunk of data read from the
// server, in order, until the connection is disconnected or a read times out.
// All callbacks are called from a single goroutine owned by the Conn and the
// Connected callbacks always run before the first Data callback.
//
// Each read must complete within the configured read timeout.
// The timeout is renewed for every read, so it limits how long the server may
// stay silent rather than how long the connection may last.
type Conn struct {
	cfg         config.Config
	logger      *log.Logger
	meter       metric.Meter
	dialer      *dial.Dialer
	netResolver *net.Resolver
	transport   discover.Transport
	timeout     time.Duration

	attempts metric.Int64Counter
	failures metric.Int64Counter
	received metric.Int64Counter

	// resolveMu serializes use of the resolver, which tracks a single hostname.
	resolveMu sync.Mutex
	resolver  *discover.Resolver

	signals  signals
	wg       conc.WaitGroup
	callback atomic.Bool

	mu     sync.Mutex
	state  ConnState
	sess   *session
	closed bool
}

// NewConn creates an unconnected Conn.
func NewConn(cfg config.Config, opts ...ConnOption) *Conn {
	c := &Conn{
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
		meter:  otel.Meter("mellium.im/c2s"),
		dialer: &dial.Dialer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = cfg.Timeout()
	}
	if c.transport == nil {
		c.transport = discover.NewTransport(cfg.Resolvers(), c.netResolver)
	}
	c.resolver = discover.NewResolver(c.transport,
		discover.Logger(c.logger),
		discover.Meter(c.meter),
	)
	c.attempts = c.counter("c2s.connect.attempts", "Connection attempts started")
	c.failures = c.counter("c2s.connect.failures", "Connection attempts that failed")
	c.received = c.counter("c2s.bytes.received", "Bytes read from the server")
	return c
}

func (c *Conn) counter(name, desc string) metric.Int64Counter {
	ctr, err := c.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c.logger.Printf("error creating counter %s: %v", name, err)
		return noop.Int64Counter{}
	}
	return ctr
}

// State returns the current state of the socket.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is established.
func (c *Conn) IsConnected() bool {
	return c.State() == Connected
}

// OnData registers f to be called with the text of each chunk of data read from
// the server.
// Chunks are delivered exactly as they were read and may contain partial XML
// tokens or partial UTF-8 sequences.
func (c *Conn) OnData(f func(string)) SubscriptionID {
	return c.signals.onData(f)
}

// OnConnected registers f to be called each time a connection is established.
func (c *Conn) OnConnected(f func()) SubscriptionID {
	return c.signals.onConnected(f)
}

// Unsubscribe removes a callback registered with OnData or OnConnected.
// It reports whether a callback was removed.
func (c *Conn) Unsubscribe(id SubscriptionID) bool {
	return c.signals.unsubscribe(id)
}

// Connect looks up the next endpoint for hostname and starts connecting to it
// in the background.
//
// An empty hostname results in ErrInvalidArgument without any network
// activity.
// Errors from discovery are returned synchronously and leave the Conn
// disconnected.
// Once Connect returns nil the attempt has started: its outcome is reported by
// the Connected signal, or by Done and Err if it fails.
// If the Conn is closed while discovery is in progress, ErrClosed is returned.
//
// Calling Connect again for the same hostname after a failed attempt moves on
// to the next discovered endpoint.
func (c *Conn) Connect(ctx context.Context, hostname string) error {
	if hostname == "" {
		return fmt.Errorf("%w: empty hostname", ErrInvalidArgument)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state != Disconnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:    sessCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.sess = s
	c.state = Connecting
	c.mu.Unlock()

	c.attempts.Add(ctx, 1)
	c.resolveMu.Lock()
	e, err := c.resolver.NextCandidate(ctx, hostname, c.cfg.UseIPv6, c.cfg.Port())
	c.resolveMu.Unlock()
	if err != nil {
		c.failures.Add(ctx, 1)
		c.logger.Printf("error resolving %s: %v", hostname, err)
		c.finish(s, err)
		return err
	}

	// Close or Disconnect may have run while resolving.
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		c.finish(s, nil)
		return ErrClosed
	case c.sess != s || c.state != Connecting:
		c.mu.Unlock()
		c.finish(s, nil)
		return nil
	}
	c.logger.Printf("connecting to %s (%s)", e, hostname)
	c.wg.Go(func() {
		c.run(s, e)
	})
	c.mu.Unlock()
	return nil
}

// ConnectJID is like Connect except that the domainpart of addr is used as the
// hostname.
// If addr is the zero JID, ErrInvalidArgument is returned.
func (c *Conn) ConnectJID(ctx context.Context, addr jid.JID) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	return c.Connect(ctx, addr.Domainpart())
}

// Done returns a channel that is closed when the current connection attempt
// or connection ends.
// If Connect has never been called the returned channel is already closed.
func (c *Conn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.sess.done
}

// Err returns the error that ended the most recent connection, if any.
// A connection that is disconnected, closed by the server, or that times out
// waiting for data ends without an error.
// Err returns nil while a connection is still in progress.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	select {
	case <-c.sess.done:
		return c.sess.err
	default:
		return nil
	}
}

// Disconnect stops a connection attempt in progress or shuts down both
// directions of an established connection.
//
// If there is nothing to disconnect, including when Connect was never called,
// ErrNotConnected is returned.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	s := c.sess
	if s == nil || c.state == Disconnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = Disconnected
	conn := s.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = shutdown(conn)
	}
	s.cancel()
	c.logger.Printf("disconnected")
	return err
}

// Write is not supported; it always returns an error wrapping
// errors.ErrUnsupported.
func (c *Conn) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("c2s: write: %w", errors.ErrUnsupported)
}

// StartEncryption reports whether the configuration asks for the stream to be
// encrypted.
// If it does, ErrEncryptionUnsupported is also returned: the handshake itself
// must be performed by the caller.
func (c *Conn) StartEncryption() (bool, error) {
	if !c.cfg.UseSSL {
		return false, nil
	}
	return true, ErrEncryptionUnsupported
}

// Close disconnects the connection if required and waits for the goroutine
// that reads from it to exit.
// Calling Close more than once is a no-op.
//
// Close may be called from an OnData or OnConnected callback.
// It then returns without waiting, and the read goroutine exits as soon as the
// callback returns.
// The same applies to a call from another goroutine that happens while a
// callback is running.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Disconnect()
	if errors.Is(err, ErrNotConnected) {
		err = nil
	}
	if c.inCallback() {
		// The read goroutine exits once the callback returns.
		return err
	}
	c.wg.Wait()
	return err
}

// inCallback reports whether the read goroutine is running a subscriber.
func (c *Conn) inCallback() bool {
	return c.callback.Load()
}

// emit runs a signal on the read goroutine.
func (c *Conn) emit(f func()) {
	c.callback.Store(true)
	defer c.callback.Store(false)
	f()
}

// finish ends a session.
// The state is only reset if s is still the current session.
func (c *Conn) finish(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == s {
		c.state = Disconnected
	}
	s.cancel()
	s.err = err
	close(s.done)
}

// active reports whether s is the current, connected session.
func (c *Conn) active(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == s && c.state == Connected && s.ctx.Err() == nil
}

func (c *Conn) run(s *session, e discover.Endpoint) {
	conn, err := c.dialer.DialAddr(s.ctx, e.AddrPort())
	if err != nil {
		if s.ctx.Err() != nil {
			c.logger.Printf("connection attempt to %s canceled", e)
			c.finish(s, nil)
			return
		}
		c.failures.Add(s.ctx, 1)
		c.logger.Printf("error connecting to %s: %v", e, err)
		c.finish(s, fmt.Errorf("c2s: connecting to %s: %w", e, err))
		return
	}

	c.mu.Lock()
	if c.sess != s || c.state != Connecting {
		c.mu.Unlock()
		/* #nosec */
		conn.Close()
		c.finish(s, nil)
		return
	}
	s.conn = conn
	c.state = Connected
	c.mu.Unlock()

	// Cancelling the session unblocks any pending read.
	stop := context.AfterFunc(s.ctx, func() {
		/* #nosec */
		conn.Close()
	})
	defer stop()

	c.logger.Printf("connected to %s", e)
	c.emit(c.signals.emitConnected)

	err = c.readLoop(s, conn)
	/* #nosec */
	conn.Close()
	if err != nil {
		c.logger.Printf("error reading from %s: %v", e, err)
	}
	c.finish(s, err)
}

// readLoop reads from conn until the session ends.
// Timeouts, EOF and cancellation end the loop without an error.
func (c *Conn) readLoop(s *session, conn net.Conn) error {
	buf := make([]byte, ReadSize)
	timeout := c.timeout
	for c.active(s) {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			if !c.active(s) {
				return nil
			}
			return err
		}
		n, err := conn.Read(buf)
		if n > 0 && c.active(s) {
			c.received.Add(s.ctx, int64(n))
			text := string(buf[:n])
			c.emit(func() {
				c.signals.emitData(text)
			})
		}
		switch {
		case err == nil:
		case !c.active(s), errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			c.logger.Printf("no data received for %s", timeout)
			return nil
		default:
			return err
		}
	}
	return nil
}

type closeReadWriter interface {
	CloseRead() error
	CloseWrite() error
}

// shutdown shuts down both directions of conn.
// A connection that was already closed is not an error.
func shutdown(conn net.Conn) error {
	crw, ok := conn.(closeReadWriter)
	if !ok {
		return ignoreClosed(conn.Close())
	}
	return errors.Join(ignoreClosed(crw.CloseRead()), ignoreClosed(crw.CloseWrite()))
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
