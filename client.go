// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package c2s

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"mellium.im/c2s/config"
	"mellium.im/c2s/internal/discover"
	"mellium.im/c2s/lifecycle"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// ConnOptions configures the Conn that is owned by a Client.
func ConnOptions(opts ...ConnOption) ClientOption {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, opts...)
	}
}

// BackOff sets the policy used to wait between connection attempts.
// By default an exponential back off is used.
func BackOff(b backoff.BackOff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// Client connects to a single target host, moving on to the next discovered
// endpoint each time an attempt fails.
//
// The phase of the connection is tracked by a lifecycle.Machine that is driven
// by the Client's Conn.
// A Client is not safe for concurrent calls to Connect.
type Client struct {
	cfg       config.Config
	connOpts  []ConnOption
	backoff   backoff.BackOff
	conn      *Conn
	machine   *lifecycle.Machine
	connected chan struct{}
	gen       atomic.Uint64
	wg        conc.WaitGroup
}

// NewClient creates a Client that connects to target.
// Target may be a hostname or a literal IP address.
func NewClient(cfg config.Config, target string, opts ...ClientOption) *Client {
	c := &Client{
		cfg:       cfg,
		machine:   lifecycle.New(target),
		connected: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoff == nil {
		c.backoff = backoff.NewExponentialBackOff()
	}
	c.conn = NewConn(cfg, c.connOpts...)
	c.conn.OnConnected(func() {
		err := c.machine.Fire(context.Background(), lifecycle.TriggerConnected, c.conn)
		if err != nil {
			c.conn.logger.Printf("ignoring connection to %s: %v", target, err)
			return
		}
		select {
		case c.connected <- struct{}{}:
		default:
		}
	})
	return c
}

// Conn returns the underlying connection.
// It may be used to subscribe to data from the server.
func (c *Client) Conn() *Conn {
	return c.conn
}

// Target returns the host the Client connects to.
func (c *Client) Target() string {
	return c.machine.Target()
}

// State returns the current phase of the connection.
func (c *Client) State() lifecycle.State {
	return c.machine.State()
}

// Connect tries to establish a connection to the target host, making up to
// the configured number of attempts.
// Each attempt uses the next endpoint returned by discovery: SRV targets in
// order and then the host itself.
//
// Connect blocks until the connection is established, all attempts have
// failed, or ctx is done.
// Invalid arguments and triggers that are not permitted in the current state
// are not retried.
func (c *Client) Connect(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx)
	},
		backoff.WithBackOff(c.backoff),
		backoff.WithMaxTries(uint(c.cfg.Attempts())),
	)
	return err
}

func (c *Client) attempt(ctx context.Context) error {
	select {
	case <-c.connected:
	default:
	}
	gen := c.gen.Add(1)

	err := c.machine.Fire(ctx, lifecycle.TriggerConnect, c.conn)
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrAlreadyConnected),
		errors.Is(err, ErrClosed),
		errors.Is(err, discover.ErrInvalidHostname):
		return backoff.Permanent(err)
	default:
		return err
	}

	done := c.conn.Done()
	select {
	case <-c.connected:
		c.wg.Go(func() {
			<-done
			if c.gen.Load() == gen {
				c.abandon()
			}
		})
		return nil
	case <-done:
		c.abandon()
		if err := c.conn.Err(); err != nil {
			return err
		}
		return ErrSessionEnded
	case <-ctx.Done():
		c.abandon()
		return backoff.Permanent(ctx.Err())
	}
}

// abandon returns the machine to the disconnected state, completing the
// shutdown if the connection was already gone.
func (c *Client) abandon() {
	err := c.machine.Fire(context.Background(), lifecycle.TriggerDisconnect, c.conn)
	if err != nil && c.machine.State() == lifecycle.StateDisconnect {
		/* #nosec */
		c.machine.Fire(context.Background(), lifecycle.TriggerDisconnect, c.conn)
	}
}

// Disconnect shuts down the connection.
// If the connection had already ended the machine is moved to the
// disconnected state and nil is returned.
func (c *Client) Disconnect() error {
	c.gen.Add(1)
	err := c.machine.Fire(context.Background(), lifecycle.TriggerDisconnect, c.conn)
	if errors.Is(err, ErrNotConnected) {
		return c.machine.Fire(context.Background(), lifecycle.TriggerDisconnect, c.conn)
	}
	return err
}

// Close disconnects if required and releases the Conn.
// Any goroutines started by the Client have exited when Close returns, unless
// Close is called from a callback of the Conn (see Conn.Close).
func (c *Client) Close() error {
	if c.machine.State() != lifecycle.StateDisconnected {
		/* #nosec */
		c.Disconnect()
	}
	err := c.conn.Close()
	if c.conn.inCallback() {
		return err
	}
	c.wg.Wait()
	return err
}
