// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"context"
	"sync"
)

// Connector records calls made to it by a lifecycle.Machine.
type Connector struct {
	ConnectErr    error
	DisconnectErr error

	mu          sync.Mutex
	hosts       []string
	disconnects int
}

// Connect records hostname and returns ConnectErr.
func (c *Connector) Connect(_ context.Context, hostname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = append(c.hosts, hostname)
	return c.ConnectErr
}

// Disconnect counts the call and returns DisconnectErr.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.DisconnectErr
}

// Hosts returns the hostnames passed to Connect.
func (c *Connector) Hosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := make([]string, len(c.hosts))
	copy(h, c.hosts)
	return h
}

// Disconnects returns the number of times Disconnect was called.
func (c *Connector) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}
